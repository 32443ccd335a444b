// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
)

// DefaultIssuer is the Roblox OAuth 2.0 issuer.
const DefaultIssuer = "https://apis.roblox.com/oauth/"

// StoreKind names a session store backend.
type StoreKind string

// Session store backends.
const (
	StoreMemory   StoreKind = "memory"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
)

// Secret is a configuration value which must never be printed.
type Secret string

// RedactedSecret is the redacted string or json for a Secret.
const RedactedSecret = "[REDACTED: secret]"

// String will redact the secret.
func (s Secret) String() string {
	return RedactedSecret
}

// MarshalJSON will redact the secret.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedSecret)
}

// Config is the server's configuration.
type Config struct {
	// ClientID and ClientSecret are the Roblox OAuth application's
	// credentials. A public client leaves ClientSecret empty and uses PKCE.
	ClientID     string            `env:"ROBLOX_CLIENT_ID"`
	ClientSecret oidc.ClientSecret `env:"ROBLOX_CLIENT_SECRET"`

	// CallbackURL must be registered with the Roblox OAuth application.
	CallbackURL string   `env:"ROBLOX_CALLBACK_URL"`
	Issuer      string   `env:"ROBLOX_ISSUER" envDefault:"https://apis.roblox.com/oauth/"`
	Scopes      []string `env:"ROBLOX_SCOPES" envDefault:"openid,profile" envSeparator:","`

	// Explicit provider endpoints. When AuthURL is set, discovery is
	// skipped.
	AuthURL     string `env:"ROBLOX_AUTH_URL"`
	TokenURL    string `env:"ROBLOX_TOKEN_URL"`
	UserInfoURL string `env:"ROBLOX_USERINFO_URL"`
	JWKSURL     string `env:"ROBLOX_JWKS_URL"`

	SessionSecret Secret        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionStore  StoreKind     `env:"SESSION_STORE" envDefault:"memory"`
	DatabaseURL   Secret        `env:"DATABASE_URL"`
	RedisURL      Secret        `env:"REDIS_URL"`

	Port           int           `env:"PORT" envDefault:"3000"`
	CookieSecure   bool          `env:"COOKIE_SECURE"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON        bool          `env:"LOG_JSON"`
}

// Load reads the configuration from the environment and validates it.
//
// Supported options: WithEnvironment
func Load(opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: opts.withEnvironment}); err != nil {
		return nil, fmt.Errorf("%s: unable to parse environment: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// Validate the configuration. Every problem found is reported, and the
// result matches oidc.ErrInvalidParameter.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	var result *multierror.Error
	invalid := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), oidc.ErrInvalidParameter))
	}
	if c.ClientID == "" {
		invalid("ROBLOX_CLIENT_ID is required")
	}
	if c.CallbackURL == "" {
		invalid("ROBLOX_CALLBACK_URL is required")
	} else if u, err := url.Parse(c.CallbackURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		invalid("ROBLOX_CALLBACK_URL %q is not an absolute http(s) URL", c.CallbackURL)
	}
	if c.AuthURL != "" && (c.TokenURL == "" || c.JWKSURL == "") {
		invalid("ROBLOX_AUTH_URL requires ROBLOX_TOKEN_URL and ROBLOX_JWKS_URL")
	}
	if len(c.SessionSecret) < session.MinSecretLength {
		invalid("SESSION_SECRET must be at least %d bytes", session.MinSecretLength)
	}
	if c.SessionTTL <= 0 {
		invalid("SESSION_TTL must be positive")
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.DatabaseURL == "" {
			invalid("DATABASE_URL is required for the %s session store", c.SessionStore)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			invalid("REDIS_URL is required for the redis session store")
		}
	default:
		invalid("SESSION_STORE %q is not one of memory, sqlite, postgres or redis", c.SessionStore)
	}
	if c.Port <= 0 || c.Port > 65535 {
		invalid("PORT %d is out of range", c.Port)
	}
	if c.RequestTimeout <= 0 {
		invalid("REQUEST_TIMEOUT must be positive")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		invalid("LOG_LEVEL %q is unknown", c.LogLevel)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OIDC returns the provider configuration.
func (c *Config) OIDC(opt ...oidc.Option) (*oidc.Config, error) {
	const op = "Config.OIDC"
	opts := []oidc.Option{
		oidc.WithScopes(c.Scopes...),
		oidc.WithRequestTimeout(c.RequestTimeout),
	}
	if c.AuthURL != "" {
		opts = append(opts, oidc.WithProviderConfig(&oidc.ProviderConfig{
			AuthURL:     c.AuthURL,
			TokenURL:    c.TokenURL,
			UserInfoURL: c.UserInfoURL,
			JWKSURL:     c.JWKSURL,
		}))
	}
	oc, err := oidc.NewConfig(c.Issuer, c.ClientID, c.ClientSecret, c.CallbackURL, append(opts, opt...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

// Addr returns the address the server listens on.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Logger returns the root logger.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "rbxauth",
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
		Output:     os.Stderr,
	})
}
