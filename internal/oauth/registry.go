package oauth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/linkedin"
	"golang.org/x/oauth2/microsoft"
)

// Provider identifies one of the supported identity providers.
type Provider string

const (
	Google    Provider = "google"
	Microsoft Provider = "microsoft"
	Facebook  Provider = "facebook"
	LinkedIn  Provider = "linkedin"
	Twitter   Provider = "twitter"
)

// KnownProviders lists every supported provider in display order.
var KnownProviders = []Provider{Google, Microsoft, Facebook, LinkedIn, Twitter}

// ParseProvider validates a provider name taken from a URL or request.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range KnownProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Behavior records the protocol quirks of a provider. Shared flow logic
// consults it instead of branching on provider names.
type Behavior struct {
	// PKCE requires a code verifier/challenge pair on the authorization request.
	PKCE bool
	// Discovery means the provider publishes an OpenID configuration document.
	Discovery bool
	// IDToken means the token response carries a signed identity token.
	IDToken bool
	// Email means the requested scopes expose the user's email address.
	Email bool
}

var behaviors = map[Provider]Behavior{
	Google:    {Discovery: true, IDToken: true, Email: true},
	Microsoft: {Discovery: true, IDToken: true, Email: true},
	Facebook:  {Discovery: true, IDToken: true, Email: true},
	LinkedIn:  {Discovery: true, IDToken: true, Email: true},
	Twitter:   {PKCE: true},
}

// BehaviorOf returns the behavior table entry for p.
func BehaviorOf(p Provider) Behavior {
	return behaviors[p]
}

// Twitter OAuth 2.0 endpoints. Twitter publishes no discovery document.
var twitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// ProviderConfig is everything needed to start or complete a flow against
// one provider. It is immutable once the Registry is built.
type ProviderConfig struct {
	Provider     Provider
	DisplayName  string
	Icon         string
	Color        string
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	DiscoveryURL string
	UserInfoURL  string
	Scopes       []string
	RedirectURI  string
	Behavior     Behavior
}

// OAuth2 returns the x/oauth2 client configuration for this provider.
func (c *ProviderConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.Endpoint,
		RedirectURL:  c.RedirectURI,
		Scopes:       append([]string(nil), c.Scopes...),
	}
}

// Credentials are the client id/secret registered with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Settings are the environment-sourced inputs of DefaultProviders.
type Settings struct {
	// RedirectBase is the public base URL callbacks are served from.
	RedirectBase string
	// MicrosoftTenant is the Azure AD tenant ("common" for multi-tenant).
	MicrosoftTenant string
	Credentials     map[Provider]Credentials
}

// RedirectURI returns the callback URL registered for p.
func (s Settings) RedirectURI(p Provider) string {
	return fmt.Sprintf("%s/api/auth/%s/callback", strings.TrimRight(s.RedirectBase, "/"), p)
}

// DefaultProviders builds the production configuration of every provider.
func DefaultProviders(s Settings) []ProviderConfig {
	tenant := s.MicrosoftTenant
	if tenant == "" {
		tenant = "common"
	}
	cfg := func(p Provider, display, color string) ProviderConfig {
		creds := s.Credentials[p]
		return ProviderConfig{
			Provider:     p,
			DisplayName:  display,
			Icon:         string(p),
			Color:        color,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURI:  s.RedirectURI(p),
			Behavior:     behaviors[p],
		}
	}

	g := cfg(Google, "Google", "#4285f4")
	g.Endpoint = google.Endpoint
	g.DiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"
	g.UserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	g.Scopes = []string{"openid", "email", "profile"}

	ms := cfg(Microsoft, "Microsoft", "#00a1f1")
	ms.Endpoint = microsoft.AzureADEndpoint(tenant)
	ms.DiscoveryURL = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0/.well-known/openid-configuration", tenant)
	ms.UserInfoURL = "https://graph.microsoft.com/oidc/userinfo"
	ms.Scopes = []string{"openid", "email", "profile"}

	fb := cfg(Facebook, "Facebook", "#1877f2")
	fb.Endpoint = facebook.Endpoint
	fb.DiscoveryURL = "https://www.facebook.com/.well-known/openid-configuration/"
	fb.UserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,picture"
	fb.Scopes = []string{"openid", "email", "public_profile"}

	li := cfg(LinkedIn, "LinkedIn", "#0077b5")
	li.Endpoint = linkedin.Endpoint
	li.DiscoveryURL = "https://www.linkedin.com/oauth/.well-known/openid-configuration"
	li.UserInfoURL = "https://api.linkedin.com/v2/userinfo"
	li.Scopes = []string{"openid", "email", "profile"}

	tw := cfg(Twitter, "Twitter", "#1da1f2")
	tw.Endpoint = twitterEndpoint
	tw.UserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"
	tw.Scopes = []string{"users.read", "offline.access"}

	return []ProviderConfig{g, ms, fb, li, tw}
}

// Registry resolves provider names to their configuration.
type Registry struct {
	byName map[Provider]ProviderConfig
	order  []Provider
}

// NewRegistry builds a Registry. Configurations for unknown providers are
// ignored; a later configuration for the same provider replaces an earlier one.
func NewRegistry(configs ...ProviderConfig) *Registry {
	r := &Registry{byName: make(map[Provider]ProviderConfig)}
	for _, c := range configs {
		if _, ok := behaviors[c.Provider]; !ok {
			continue
		}
		if _, seen := r.byName[c.Provider]; !seen {
			r.order = append(r.order, c.Provider)
		}
		c.Scopes = append([]string(nil), c.Scopes...)
		r.byName[c.Provider] = c
	}
	return r
}

// ConfigFor returns the configuration of the named provider.
func (r *Registry) ConfigFor(name string) (*ProviderConfig, error) {
	p, err := ParseProvider(name)
	if err != nil {
		return nil, err
	}
	c, ok := r.byName[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrUnknownProvider, p)
	}
	c.Scopes = append([]string(nil), c.Scopes...)
	return &c, nil
}

// Providers returns every configured provider in registration order.
func (r *Registry) Providers() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.byName[p])
	}
	return out
}
