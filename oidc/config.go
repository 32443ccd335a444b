// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	sdkHttp "github.com/hireadev/rbxauth/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// DefaultRequestTimeout bounds every outbound request to the provider.
const DefaultRequestTimeout = 10 * time.Second

// Config represents the configuration for an OIDC provider used by a relying
// party. A Config is immutable once it's been passed to NewProvider.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret. It's optional for public
	// clients, which must use PKCE.
	ClientSecret ClientSecret

	// Scopes is the list of scopes to request of the provider. The "openid"
	// scope is always requested.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms.
	SupportedSigningAlgs []Alg

	// RedirectURL is the URL the provider redirects to with the
	// authorization code.
	RedirectURL string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// ProviderConfig is an optional set of static provider endpoints. When
	// set, discovery is skipped.
	ProviderConfig *ProviderConfig

	// DisablePKCE turns off PKCE for confidential clients.
	DisablePKCE bool

	// RequestTimeout bounds each outbound request to the provider.
	RequestTimeout time.Duration

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// ProviderConfig defines the endpoints of a provider that doesn't support
// discovery, or whose discovery document shouldn't be trusted.
type ProviderConfig struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	JWKSURL     string
}

// NewConfig composes a new config for a provider.
//
// The "openid" scope is added when missing from the requested scopes.
//
// Supported options: WithProviderCA, WithScopes, WithSupportedSigningAlgs,
// WithProviderConfig, WithRequestTimeout, WithoutPKCE, WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	scopes := opts.withScopes
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		RedirectURL:          redirectURL,
		Scopes:               scopes,
		ProviderCA:           opts.withProviderCA,
		ProviderConfig:       opts.withProviderConfig,
		DisablePKCE:          opts.withoutPKCE,
		RequestTimeout:       opts.withRequestTimeout,
		NowFunc:              opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request. Every problem found is reported, and the result
// matches ErrInvalidParameter.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	} else if u, err := url.Parse(c.RedirectURL); err != nil || !slices.Contains([]string{"https", "http"}, u.Scheme) || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL %q is not an absolute http(s) URL: %w", c.RedirectURL, ErrInvalidParameter))
	}
	if c.ClientSecret == "" && c.DisablePKCE {
		result = multierror.Append(result, fmt.Errorf("public clients must use PKCE: %w", ErrInvalidParameter))
	}
	if !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		result = multierror.Append(result, fmt.Errorf("scopes must include %q: %w", oidc.ScopeOpenID, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("discovery URL is empty: %w", ErrInvalidParameter))
	} else if u, err := url.Parse(c.Issuer); err != nil || !slices.Contains([]string{"https", "http"}, u.Scheme) {
		result = multierror.Append(result, fmt.Errorf("issuer %s schema is not http or https: %w", c.Issuer, ErrInvalidIssuer))
	}
	if c.ProviderConfig != nil {
		if c.ProviderConfig.AuthURL == "" || c.ProviderConfig.TokenURL == "" || c.ProviderConfig.JWKSURL == "" {
			result = multierror.Append(result, fmt.Errorf("provider config requires auth, token and jwks URLs: %w", ErrInvalidParameter))
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrInvalidParameter))
		}
	}
	if c.RequestTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("request timeout is negative: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// Timeout returns the configured request timeout or DefaultRequestTimeout.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// SigningAlgs returns the configured algs or DefaultSigningAlgs.
func (c *Config) SigningAlgs() []string {
	algs := c.SupportedSigningAlgs
	if len(algs) == 0 {
		algs = DefaultSigningAlgs
	}
	s := make([]string, 0, len(algs))
	for _, a := range algs {
		s = append(s, string(a))
	}
	return s
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout())
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes               []string
	withSupportedSigningAlgs []Alg
	withProviderCA           string
	withProviderConfig       *ProviderConfig
	withRequestTimeout       time.Duration
	withoutPKCE              bool
	withNowFunc              func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withScopes:         []string{oidc.ScopeOpenID},
		withRequestTimeout: DefaultRequestTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the provider's config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of id_token signing algs.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithProviderCA provides an optional CA certs (PEM encoded) for the
// provider's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithProviderConfig provides static provider endpoints which disable
// discovery.
func WithProviderConfig(pc *ProviderConfig) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderConfig = pc
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequestTimeout = d
		}
	}
}

// WithoutPKCE disables PKCE.
//
// Valid for: Config and Transaction
func WithoutPKCE() Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withoutPKCE = true
		case *txOptions:
			v.withoutPKCE = true
		}
	}
}
