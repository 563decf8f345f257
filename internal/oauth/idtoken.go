package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	TenantID   string `json:"tid"`
}

// IDTokenVerifier checks identity tokens against the keys a provider
// publishes through its discovery document. Discovery documents and key sets
// are cached.
type IDTokenVerifier struct {
	client *http.Client
	cache  *cache.Cache
	now    func() time.Time
}

func NewIDTokenVerifier(client *http.Client, cacheTTL time.Duration) *IDTokenVerifier {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &IDTokenVerifier{
		client: client,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		now:    time.Now,
	}
}

// Verify validates signature (RS256), audience, expiry and issuer of raw and
// returns the identity it asserts. Any failure is ErrIdentityClaimsUnavailable.
func (v *IDTokenVerifier) Verify(ctx context.Context, cfg *ProviderConfig, raw string) (*Identity, error) {
	if !cfg.Behavior.Discovery || cfg.DiscoveryURL == "" {
		return nil, fmt.Errorf("%w: %s publishes no signing keys", ErrIdentityClaimsUnavailable, cfg.Provider)
	}
	doc, err := v.discovery(ctx, cfg.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s discovery: %v", ErrIdentityClaimsUnavailable, cfg.Provider, err)
	}

	claims := &idTokenClaims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.signingKey(ctx, doc.JWKSURI, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s id_token: %v", ErrIdentityClaimsUnavailable, cfg.Provider, err)
	}
	if !issuerMatches(doc.Issuer, claims) {
		return nil, fmt.Errorf("%w: %s id_token: unexpected issuer %q", ErrIdentityClaimsUnavailable, cfg.Provider, claims.Issuer)
	}

	name := claims.Name
	if name == "" {
		name = strings.TrimSpace(claims.GivenName + " " + claims.FamilyName)
	}
	return normalizeIdentity(cfg, claims.Subject, claims.Email, name, claims.Picture)
}

// issuerMatches compares the token issuer with the discovery issuer. Azure AD
// publishes a templated issuer that is completed with the token's tenant.
func issuerMatches(expected string, claims *idTokenClaims) bool {
	if expected == "" {
		return true
	}
	if strings.Contains(expected, "{tenantid}") {
		if claims.TenantID == "" {
			return false
		}
		expected = strings.ReplaceAll(expected, "{tenantid}", claims.TenantID)
	}
	got := claims.Issuer
	return got == expected || "https://"+got == expected
}

func (v *IDTokenVerifier) discovery(ctx context.Context, url string) (*discoveryDocument, error) {
	key := "discovery:" + url
	if cached, ok := v.cache.Get(key); ok {
		return cached.(*discoveryDocument), nil
	}
	var doc discoveryDocument
	if err := v.getJSON(ctx, url, &doc); err != nil {
		return nil, err
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("discovery document has no jwks_uri")
	}
	v.cache.SetDefault(key, &doc)
	return &doc, nil
}

// signingKey resolves kid in the provider's key set, refreshing the cached
// set once when the kid is unknown (key rotation).
func (v *IDTokenVerifier) signingKey(ctx context.Context, jwksURI, kid string) (*rsa.PublicKey, error) {
	for _, refresh := range []bool{false, true} {
		keys, err := v.keySet(ctx, jwksURI, refresh)
		if err != nil {
			return nil, err
		}
		if k, ok := keys[kid]; ok {
			return k, nil
		}
		if kid == "" && len(keys) == 1 {
			for _, k := range keys {
				return k, nil
			}
		}
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

func (v *IDTokenVerifier) keySet(ctx context.Context, jwksURI string, refresh bool) (map[string]*rsa.PublicKey, error) {
	key := "jwks:" + jwksURI
	if !refresh {
		if cached, ok := v.cache.Get(key); ok {
			return cached.(map[string]*rsa.PublicKey), nil
		}
	}
	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := v.getJSON(ctx, jwksURI, &set); err != nil {
		return nil, err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	v.cache.SetDefault(key, keys)
	return keys, nil
}

func rsaPublicKey(k jsonWebKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 65537
	if len(eb) > 0 {
		e = int(new(big.Int).SetBytes(eb).Int64())
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

func (v *IDTokenVerifier) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
