// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

const (
	// DefaultRefreshAttempts is the number of refresh_token grants tried
	// before giving up on a transient failure.
	DefaultRefreshAttempts = 3

	// DefaultRetryInterval is the initial backoff between refresh attempts.
	DefaultRetryInterval = 250 * time.Millisecond
)

// Provider provides integration with a provider using the typical
// 3-legged OIDC authorization code flow.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	logger   hclog.Logger
	avatars  AvatarResolver

	refreshAttempts uint
	retryInterval   time.Duration

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs ket sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider. Unless the Config has a
// ProviderConfig, intializing the provider includes an http request to the
// provider's issuer for discovery.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options: WithLogger, WithAvatarResolver, WithRefreshAttempts,
// WithRetryInterval
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		logger:              opts.withLogger,
		avatars:             opts.withAvatarResolver,
		refreshAttempts:     opts.withRefreshAttempts,
		retryInterval:       opts.withRetryInterval,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HttpClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client
	oidcCtx := HttpClientContext(p.backgroundCtx, client)

	if pc := c.ProviderConfig; pc != nil {
		static := &oidc.ProviderConfig{
			IssuerURL:   c.Issuer,
			AuthURL:     pc.AuthURL,
			TokenURL:    pc.TokenURL,
			UserInfoURL: pc.UserInfoURL,
			JWKSURL:     pc.JWKSURL,
			Algorithms:  c.SigningAlgs(),
		}
		p.provider = static.NewProvider(oidcCtx)
		return p, nil
	}

	discoveryCtx, discoveryCancel := context.WithTimeout(oidcCtx, c.Timeout())
	defer discoveryCancel()
	provider, err := oidc.NewProvider(discoveryCtx, c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w: %w", op, ErrProviderUnavailable, err)
	}
	p.provider = provider
	p.logger.Debug("discovered provider", "issuer", c.Issuer)
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's immutable config.
func (p *Provider) Config() *Config { return p.config }

// Begin starts a login attempt by creating a new Transaction that honors the
// provider's PKCE setting. The caller binds it to the session.
func (p *Provider) Begin(opt ...Option) (*Transaction, error) {
	const op = "Provider.Begin"
	txOpts := []Option{WithNow(p.config.NowFunc)}
	if p.config.DisablePKCE {
		txOpts = append(txOpts, WithoutPKCE())
	}
	tx, err := NewTransaction(DefaultTransactionTTL, append(txOpts, opt...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tx, nil
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider. The URL carries the
// transaction's state, and when set, its nonce and S256 code challenge.
func (p *Provider) AuthURL(tx *Transaction) (string, error) {
	const op = "Provider.AuthURL"
	switch {
	case tx == nil:
		return "", fmt.Errorf("%s: transaction is nil: %w", op, ErrNilParameter)
	case tx.State == "":
		return "", fmt.Errorf("%s: transaction state is empty: %w", op, ErrInvalidParameter)
	case tx.Nonce != "" && tx.Nonce == tx.State:
		return "", fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	authCodeOpts := []oauth2.AuthCodeOption{}
	if tx.Nonce != "" {
		authCodeOpts = append(authCodeOpts, oidc.Nonce(tx.Nonce))
	}
	if tx.CodeVerifier != "" {
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(tx.CodeVerifier))
	}
	return p.oauth2Config().AuthCodeURL(tx.State, authCodeOpts...), nil
}

// HandleCallback validates the callback's query parameters against the
// session's pending transaction and exchanges the authorization code. The
// gates run in order: ErrMissingParameter, ErrStateMismatch, then the
// exchange itself (see Exchange).
//
// HandleCallback doesn't consume the transaction; the caller must discard it
// before calling, whatever the outcome.
func (p *Provider) HandleCallback(ctx context.Context, tx *Transaction, params url.Values) (*TokenSet, error) {
	const op = "Provider.HandleCallback"
	// a provider error wins over any code that came with it
	if providerErr := params.Get("error"); providerErr != "" {
		return nil, fmt.Errorf("%s: provider returned %q: %w", op, providerErr, ErrMissingParameter)
	}
	code, state := params.Get("code"), params.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%s: code and state are required: %w", op, ErrMissingParameter)
	}
	if tx == nil {
		return nil, fmt.Errorf("%s: no pending transaction: %w", op, ErrStateMismatch)
	}
	if tx.IsExpired(WithNow(p.config.NowFunc)) {
		return nil, fmt.Errorf("%s: transaction is expired: %w", op, ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(tx.State), []byte(state)) != 1 {
		return nil, fmt.Errorf("%s: callback state doesn't match transaction: %w", op, ErrStateMismatch)
	}
	ts, err := p.Exchange(ctx, tx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// Exchange will request tokens from the token endpoint using the
// authorization code and the transaction's PKCE verifier. It's never retried
// since codes are single use.
//
// A non-2xx response returns a *TokenExchangeError. When an id_token is
// issued it's verified, and its nonce must match the transaction's nonce.
func (p *Provider) Exchange(ctx context.Context, tx *Transaction, code string) (*TokenSet, error) {
	const op = "Provider.Exchange"
	if tx == nil {
		return nil, fmt.Errorf("%s: transaction is nil: %w", op, ErrNilParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrMissingParameter)
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout())
	defer cancel()

	exchangeOpts := []oauth2.AuthCodeOption{}
	if tx.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(tx.CodeVerifier))
	}
	tk, err := p.oauth2Config().Exchange(HttpClientContext(ctx, p.client), code, exchangeOpts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			exchangeErr := &TokenExchangeError{Body: string(re.Body)}
			if re.Response != nil {
				exchangeErr.StatusCode = re.Response.StatusCode
			}
			return nil, fmt.Errorf("%s: %w", op, exchangeErr)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
	}

	ts := newTokenSet(tk, p.config.Now())
	if ts.IDToken != "" {
		sub, err := p.VerifyIDToken(ctx, ts.IDToken, tx.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ts.Subject = sub
	}
	return ts, nil
}

// VerifyIDToken will verify the id_token's signature, issuer, audience and
// expiry, and compare its nonce when one is given. It returns the token's
// subject.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) (string, error) {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return "", fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	verifier := p.provider.Verifier(&oidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: p.config.SigningAlgs(),
		Now:                  p.config.Now,
	})
	idToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return "", fmt.Errorf("%s: invalid id_token: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	if nonce != "" && subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return "", fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrNonceMismatch)
	}
	return idToken.Subject, nil
}

// EnsureFresh returns the TokenSet's access token, refreshing it first when
// it's within DefaultTokenExpirySkew of expiring. A fresh token costs no
// network call. When the provider rejects the refresh (or there's no
// refresh_token) the TokenSet is cleared in place and
// ErrReauthenticationRequired is returned.
//
// Callers must not refresh the same TokenSet concurrently.
func (p *Provider) EnsureFresh(ctx context.Context, ts *TokenSet) (AccessToken, error) {
	const op = "Provider.EnsureFresh"
	if ts == nil {
		return "", fmt.Errorf("%s: token set is nil: %w", op, ErrReauthenticationRequired)
	}
	if ts.IsFresh(WithNow(p.config.NowFunc)) {
		return ts.AccessToken, nil
	}
	if err := p.Refresh(ctx, ts); err != nil {
		if errors.Is(err, ErrReauthenticationRequired) {
			*ts = TokenSet{}
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return ts.AccessToken, nil
}

// Refresh uses the refresh_token grant to replace the TokenSet's access
// token and expiry, and its refresh token when the provider rotates it.
// Transport failures and 5xx responses are retried with exponential backoff
// before returning ErrProviderUnavailable. Any other rejection returns
// ErrReauthenticationRequired.
func (p *Provider) Refresh(ctx context.Context, ts *TokenSet) error {
	const op = "Provider.Refresh"
	if ts == nil {
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	if ts.RefreshToken == "" {
		return fmt.Errorf("%s: no refresh_token: %w", op, ErrReauthenticationRequired)
	}
	cfg := p.oauth2Config()
	expired := &oauth2.Token{RefreshToken: string(ts.RefreshToken)}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	tk, err := backoff.Retry(ctx, func() (*oauth2.Token, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.config.Timeout())
		defer cancel()
		tk, err := cfg.TokenSource(HttpClientContext(attemptCtx, p.client), expired).Token()
		if err == nil {
			return tk, nil
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError && re.Response.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrReauthenticationRequired, re.Response.StatusCode, re.Body))
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.refreshAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("refresh attempt failed", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		if !errors.Is(err, ErrReauthenticationRequired) && !errors.Is(err, ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	fresh := newTokenSet(tk, p.config.Now())
	if fresh.IDToken != "" {
		if _, err := p.VerifyIDToken(ctx, fresh.IDToken, ""); err != nil {
			return fmt.Errorf("%s: refreshed id_token: %w: %w", op, ErrReauthenticationRequired, err)
		}
		ts.IDToken = fresh.IDToken
	}
	ts.AccessToken = fresh.AccessToken
	ts.ExpiresAt = fresh.ExpiresAt
	if fresh.RefreshToken != "" {
		ts.RefreshToken = fresh.RefreshToken
	}
	if fresh.TokenType != "" {
		ts.TokenType = fresh.TokenType
	}
	if len(fresh.Scope) > 0 {
		ts.Scope = fresh.Scope
	}
	return nil
}

func (p *Provider) oauth2Config() *oauth2.Config {
	endpoint := p.provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       p.config.Scopes,
	}
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withLogger          hclog.Logger
	withAvatarResolver  AvatarResolver
	withRefreshAttempts uint
	withRetryInterval   time.Duration
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:          hclog.NewNullLogger(),
		withRefreshAttempts: DefaultRefreshAttempts,
		withRetryInterval:   DefaultRetryInterval,
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAvatarResolver provides an optional resolver used when the userinfo
// response has no picture claim.
func WithAvatarResolver(r AvatarResolver) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withAvatarResolver = r
		}
	}
}

// WithRefreshAttempts overrides DefaultRefreshAttempts. Zero is ignored.
func WithRefreshAttempts(n uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok && n > 0 {
			o.withRefreshAttempts = n
		}
	}
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok && d > 0 {
			o.withRetryInterval = d
		}
	}
}
