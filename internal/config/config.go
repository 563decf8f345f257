// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/gsarma/sentinel/internal/oauth"
)

// Config is the full process configuration.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	// Mode selects what serve runs: api, sweeper or all.
	Mode string `env:"MODE" envDefault:"all"`

	DatabaseURL        string        `env:"DATABASE_URL"`
	TokenEncryptionKey string        `env:"TOKEN_ENCRYPTION_KEY"`
	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	StateBackend  string        `env:"STATE_BACKEND" envDefault:"postgres"`
	StateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AllowedRedirectOrigins []string `env:"ALLOWED_REDIRECT_ORIGINS" envSeparator:","`

	LogEnv   string `env:"APP_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OAuth OAuth
}

// OAuth holds provider credentials. The placeholders keep the provider
// listing usable in development; real flows need real credentials.
type OAuth struct {
	RedirectBase    string `env:"OAUTH_REDIRECT_URI_BASE" envDefault:"http://localhost:8080"`
	MicrosoftTenant string `env:"MICROSOFT_TENANT_ID" envDefault:"common"`

	GoogleClientID        string `env:"GOOGLE_CLIENT_ID" envDefault:"your-google-client-id"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET" envDefault:"your-google-client-secret"`
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID" envDefault:"your-microsoft-client-id"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET" envDefault:"your-microsoft-client-secret"`
	FacebookClientID      string `env:"FACEBOOK_CLIENT_ID" envDefault:"your-facebook-client-id"`
	FacebookClientSecret  string `env:"FACEBOOK_CLIENT_SECRET" envDefault:"your-facebook-client-secret"`
	LinkedInClientID      string `env:"LINKEDIN_CLIENT_ID" envDefault:"your-linkedin-client-id"`
	LinkedInClientSecret  string `env:"LINKEDIN_CLIENT_SECRET" envDefault:"your-linkedin-client-secret"`
	TwitterClientID       string `env:"TWITTER_CLIENT_ID" envDefault:"your-twitter-client-id"`
	TwitterClientSecret   string `env:"TWITTER_CLIENT_SECRET" envDefault:"your-twitter-client-secret"`
}

// Load reads the optional dotenv files and then the process environment.
// Variables already set in the environment win over the files.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// LoadFrom parses cfg from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the selected mode depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "api", "sweeper", "all":
	default:
		errs = append(errs, fmt.Errorf("MODE must be api, sweeper or all, got %q", c.Mode))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Mode != "sweeper" {
		if c.TokenEncryptionKey == "" {
			errs = append(errs, errors.New("TOKEN_ENCRYPTION_KEY is required"))
		}
		if c.SessionSecret == "" {
			errs = append(errs, errors.New("SESSION_SECRET is required"))
		}
	}
	switch c.StateBackend {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be postgres or redis, got %q", c.StateBackend))
	}
	if u, err := url.Parse(c.OAuth.RedirectBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URI_BASE must be an absolute URL, got %q", c.OAuth.RedirectBase))
	}
	for _, o := range c.RedirectOrigins() {
		if u, err := url.Parse(o); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("ALLOWED_REDIRECT_ORIGINS entry %q is not an http(s) origin", o))
		}
	}
	return errors.Join(errs...)
}

// RedirectOrigins returns the non-empty allowlist entries without trailing slashes.
func (c *Config) RedirectOrigins() []string {
	var out []string
	for _, o := range c.AllowedRedirectOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Settings converts the provider credentials for oauth.DefaultProviders.
func (c *Config) Settings() oauth.Settings {
	o := c.OAuth
	return oauth.Settings{
		RedirectBase:    o.RedirectBase,
		MicrosoftTenant: o.MicrosoftTenant,
		Credentials: map[oauth.Provider]oauth.Credentials{
			oauth.Google:    {ClientID: o.GoogleClientID, ClientSecret: o.GoogleClientSecret},
			oauth.Microsoft: {ClientID: o.MicrosoftClientID, ClientSecret: o.MicrosoftClientSecret},
			oauth.Facebook:  {ClientID: o.FacebookClientID, ClientSecret: o.FacebookClientSecret},
			oauth.LinkedIn:  {ClientID: o.LinkedInClientID, ClientSecret: o.LinkedInClientSecret},
			oauth.Twitter:   {ClientID: o.TwitterClientID, ClientSecret: o.TwitterClientSecret},
		},
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
