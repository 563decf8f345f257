package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/gsarma/sentinel/internal/crypto"
	"github.com/gsarma/sentinel/internal/store/storetest"
)

var (
	signingKey = mustRSAKey()
	rogueKey   = mustRSAKey()
)

func mustRSAKey() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}

// fakeProvider is one httptest server playing every provider: token,
// user-info, discovery and JWKS endpoints.
type fakeProvider struct {
	srv *httptest.Server

	mu              sync.Mutex
	key             *rsa.PrivateKey
	kid             string
	signWith        *rsa.PrivateKey
	discoveryIssuer string
	idClaims        map[string]interface{}
	noIDToken       bool
	userInfo        map[string]interface{}
	tokenStatus     int
	expiresIn       int

	tokenCalls    int
	userInfoCalls int
	jwksCalls     int
	lastTokenForm url.Values
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{key: signingKey, kid: "key-1", expiresIn: 3600}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/userinfo", f.handleUserInfo)
	mux.HandleFunc("/.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("/jwks", f.handleJWKS)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// config points provider p at the fake server.
func (f *fakeProvider) config(p Provider) ProviderConfig {
	cfg := ProviderConfig{
		Provider:     p,
		DisplayName:  strings.ToUpper(string(p[:1])) + string(p[1:]),
		Icon:         string(p),
		ClientID:     "client-" + string(p),
		ClientSecret: "secret-" + string(p),
		UserInfoURL:  f.srv.URL + "/userinfo",
		RedirectURI:  "https://app.test/api/auth/" + string(p) + "/callback",
		Behavior:     BehaviorOf(p),
	}
	cfg.Endpoint.AuthURL = "https://login.test/" + string(p) + "/authorize"
	cfg.Endpoint.TokenURL = f.srv.URL + "/token"
	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.Behavior.Discovery {
		cfg.DiscoveryURL = f.srv.URL + "/.well-known/openid-configuration"
	}
	switch p {
	case Google:
		cfg.Scopes = []string{"openid", "email", "profile"}
	case Twitter:
		cfg.Scopes = []string{"users.read", "offline.access"}
	}
	return cfg
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) counts() (token, userInfo, jwks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.userInfoCalls, f.jwksCalls
}

func (f *fakeProvider) tokenForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTokenForm
}

func (f *fakeProvider) rotateKey() {
	f.set(func(f *fakeProvider) {
		f.key = rogueKey
		f.kid = "key-2"
	})
}

func (f *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	f.lastTokenForm = r.PostForm

	w.Header().Set("Content-Type", "application/json")
	if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
		w.WriteHeader(f.tokenStatus)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"}) //nolint:errcheck
		return
	}

	body := map[string]interface{}{
		"access_token":  fmt.Sprintf("access-%d", f.tokenCalls),
		"refresh_token": fmt.Sprintf("refresh-%d", f.tokenCalls),
		"token_type":    "Bearer",
	}
	if f.expiresIn > 0 {
		body["expires_in"] = f.expiresIn
	}
	if !f.noIDToken {
		body["id_token"] = f.mintIDToken(r.PostForm.Get("client_id"))
	}
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func (f *fakeProvider) mintIDToken(clientID string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   f.srv.URL,
		"aud":   clientID,
		"sub":   "subject-1",
		"email": "Alice@Example.com",
		"name":  "Alice Example",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	for k, v := range f.idClaims {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.kid
	key := f.key
	if f.signWith != nil {
		key = f.signWith
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		panic(err)
	}
	return signed
}

func (f *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userInfoCalls++
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(f.userInfo) //nolint:errcheck
}

func (f *fakeProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	issuer := f.discoveryIssuer
	f.mu.Unlock()
	if issuer == "" {
		issuer = f.srv.URL
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
		"issuer":   issuer,
		"jwks_uri": f.srv.URL + "/jwks",
	})
}

func (f *fakeProvider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jwksCalls++
	pub := f.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": f.kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

type harness struct {
	fake   *fakeProvider
	repo   *storetest.Memory
	enc    *crypto.Encryptor
	states *StateStore
	linker *Linker
	coord  *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := newFakeProvider(t)
	repo := storetest.New()
	enc, err := crypto.NewEncryptor(strings.Repeat("ab", 32))
	require.NoError(t, err)

	var configs []ProviderConfig
	for _, p := range KnownProviders {
		configs = append(configs, fake.config(p))
	}
	log := zaptest.NewLogger(t)
	h := &harness{
		fake:   fake,
		repo:   repo,
		enc:    enc,
		states: NewStateStore(NewSQLStateBackend(repo), 0),
		linker: NewLinker(repo, enc, log),
	}
	h.coord = NewCoordinator(Options{
		Registry:   NewRegistry(configs...),
		States:     h.states,
		Linker:     h.linker,
		HTTPClient: fake.srv.Client(),
		Logger:     log,
	})
	return h
}

// start begins a login and returns the state parameter of the authorization URL.
func (h *harness) start(t *testing.T, provider, redirect string) string {
	t.Helper()
	authURL, err := h.coord.Start(context.Background(), provider, redirect)
	require.NoError(t, err)
	return stateOf(t, authURL)
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
