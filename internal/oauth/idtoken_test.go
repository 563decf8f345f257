package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDTokenVerifier_TemplatedIssuer(t *testing.T) {
	h := newHarness(t)
	h.fake.set(func(f *fakeProvider) {
		f.discoveryIssuer = f.srv.URL + "/{tenantid}/v2.0"
		f.idClaims = map[string]interface{}{
			"iss": f.srv.URL + "/tid-1/v2.0",
			"tid": "tid-1",
			"sub": "ms-1",
		}
	})

	res, err := h.coord.Complete(context.Background(), "microsoft", "code-1", h.start(t, "microsoft", ""))
	require.NoError(t, err)
	assert.Equal(t, "ms-1", res.Identity.SubjectID)
}

func TestIDTokenVerifier_TemplatedIssuerMismatch(t *testing.T) {
	h := newHarness(t)
	h.fake.set(func(f *fakeProvider) {
		f.discoveryIssuer = f.srv.URL + "/{tenantid}/v2.0"
		f.idClaims = map[string]interface{}{
			"iss": f.srv.URL + "/tid-1/v2.0",
			"tid": "tid-2",
		}
	})

	_, err := h.coord.Complete(context.Background(), "microsoft", "code-1", h.start(t, "microsoft", ""))
	require.ErrorIs(t, err, ErrIdentityClaimsUnavailable)
}

func TestIDTokenVerifier_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.fake.set(func(f *fakeProvider) {
		f.idClaims = map[string]interface{}{"exp": time.Now().Add(-time.Hour).Unix()}
	})

	_, err := h.coord.Complete(context.Background(), "google", "code-1", h.start(t, "google", ""))
	require.ErrorIs(t, err, ErrIdentityClaimsUnavailable)
}

func TestIDTokenVerifier_RefetchesKeysOnRotation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Complete(ctx, "google", "code-1", h.start(t, "google", ""))
	require.NoError(t, err)
	_, err = h.coord.Complete(ctx, "google", "code-2", h.start(t, "google", ""))
	require.NoError(t, err)
	_, _, jwks := h.fake.counts()
	assert.Equal(t, 1, jwks, "key set is cached")

	h.fake.rotateKey()
	_, err = h.coord.Complete(ctx, "google", "code-3", h.start(t, "google", ""))
	require.NoError(t, err)
	_, _, jwks = h.fake.counts()
	assert.Equal(t, 2, jwks)
}

func TestIssuerMatches(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		claims   idTokenClaims
		want     bool
	}{
		{"exact", "https://accounts.google.com", claimsWithIssuer("https://accounts.google.com", ""), true},
		{"scheme-less google issuer", "https://accounts.google.com", claimsWithIssuer("accounts.google.com", ""), true},
		{"different", "https://accounts.google.com", claimsWithIssuer("https://evil.test", ""), false},
		{"template", "https://login.test/{tenantid}/v2.0", claimsWithIssuer("https://login.test/t1/v2.0", "t1"), true},
		{"template without tid", "https://login.test/{tenantid}/v2.0", claimsWithIssuer("https://login.test/t1/v2.0", ""), false},
		{"no discovery issuer", "", claimsWithIssuer("anything", ""), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, issuerMatches(tc.expected, &tc.claims))
		})
	}
}

func claimsWithIssuer(iss, tid string) idTokenClaims {
	c := idTokenClaims{TenantID: tid}
	c.Issuer = iss
	return c
}

func TestIDTokenVerifier_RequiresDiscovery(t *testing.T) {
	v := NewIDTokenVerifier(nil, 0)
	cfg := &ProviderConfig{Provider: Twitter, Behavior: BehaviorOf(Twitter)}
	_, err := v.Verify(context.Background(), cfg, "a.b.c")
	require.ErrorIs(t, err, ErrIdentityClaimsUnavailable)
}
