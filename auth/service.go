// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
	"golang.org/x/sync/singleflight"
)

// Provider is the identity provider side of a login. *oidc.Provider
// satisfies it.
type Provider interface {
	Begin(opt ...oidc.Option) (*oidc.Transaction, error)
	AuthURL(tx *oidc.Transaction) (string, error)
	HandleCallback(ctx context.Context, tx *oidc.Transaction, params url.Values) (*oidc.TokenSet, error)
	FetchIdentity(ctx context.Context, t oidc.AccessToken, opt ...oidc.Option) (*oidc.UserIdentity, error)
	EnsureFresh(ctx context.Context, ts *oidc.TokenSet) (oidc.AccessToken, error)
}

// Service runs logins against browser sessions.
type Service struct {
	provider  Provider
	sessions  *session.Manager
	metrics   *metrics.Metrics
	logger    hclog.Logger
	nowFunc   func() time.Time
	refreshes singleflight.Group
}

// NewService creates a new Service.
//
// Supported options: WithLogger, WithMetrics, WithNow
func NewService(p Provider, m *session.Manager, opt ...Option) (*Service, error) {
	const op = "auth.NewService"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	case m == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Service{
		provider: p,
		sessions: m,
		metrics:  opts.withMetrics,
		logger:   opts.withLogger,
		nowFunc:  opts.withNowFunc,
	}, nil
}

// Sessions returns the service's session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Login starts a login for the request's session: a new transaction replaces
// any pending one, the session is saved and the provider's authorization URL
// is returned for the redirect. An existing login stays in place until the
// new one completes.
func (s *Service) Login(w http.ResponseWriter, req *http.Request) (string, error) {
	const op = "Service.Login"
	sess, err := s.sessions.Load(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	unlock := s.sessions.Lock(sess.ID)
	defer unlock()
	if cur, err := s.sessions.Get(req.Context(), sess.ID); err == nil {
		sess = cur
	}

	tx, err := s.provider.Begin()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := s.provider.AuthURL(tx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sess.Transaction = tx
	if err := s.sessions.Save(w, req, sess); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("login started", "session_expires", sess.ExpiresAt)
	return authURL, nil
}

// Complete handles the provider's callback for the request's session. The
// pending transaction is consumed before anything else, so a replayed
// callback always fails with oidc.ErrStateMismatch. On success the session
// gets its tokens and identity in a single write under a new session id, and
// the identity is returned. On failure the reason is recorded on the session
// and an existing login is left alone.
//
// Complete satisfies callback.Completer.
func (s *Service) Complete(w http.ResponseWriter, req *http.Request) (*oidc.UserIdentity, error) {
	const op = "Service.Complete"
	ctx := req.Context()
	sess, err := s.sessions.Load(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tx, err := s.takeTransaction(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := req.ParseForm(); err != nil {
		err = fmt.Errorf("%s: unable to parse callback: %w: %w", op, oidc.ErrMissingParameter, err)
		s.fail(ctx, sess.ID, err)
		return nil, err
	}

	ts, err := s.provider.HandleCallback(ctx, tx, req.Form)
	if err != nil {
		s.fail(ctx, sess.ID, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ui, err := s.provider.FetchIdentity(ctx, ts.AccessToken, oidc.WithExpectedSubject(ts.Subject))
	if err != nil {
		s.fail(ctx, sess.ID, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock := s.sessions.Lock(sess.ID)
	defer unlock()
	if cur, err := s.sessions.Get(ctx, sess.ID); err == nil {
		sess = cur
	}
	if err := sess.SetAuthenticated(ts, ui); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sessions.Rotate(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sessions.Save(w, req, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.ObserveLogin(nil)
	s.logger.Info("login completed", "subject", ui.Subject)
	return ui, nil
}

// takeTransaction detaches the pending transaction from the stored session
// and persists the session without it. A session which isn't stored has no
// transaction.
func (s *Service) takeTransaction(ctx context.Context, id string) (*oidc.Transaction, error) {
	const op = "Service.takeTransaction"
	unlock := s.sessions.Lock(id)
	defer unlock()
	sess, err := s.sessions.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tx := sess.TakeTransaction()
	if tx == nil {
		return nil, nil
	}
	if err := s.sessions.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tx, nil
}

// fail records a failed login attempt on the stored session.
func (s *Service) fail(ctx context.Context, id string, cause error) {
	reason := metrics.Outcome(cause)
	s.metrics.ObserveLogin(cause)
	s.logger.Warn("login failed", "outcome", reason, "error", cause)

	unlock := s.sessions.Lock(id)
	defer unlock()
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return
	}
	sess.Fail(reason, s.now())
	if err := s.sessions.Set(ctx, sess); err != nil {
		s.logger.Error("unable to record login failure", "error", err)
	}
}

// Logout destroys the request's session and expires its cookie.
func (s *Service) Logout(w http.ResponseWriter, req *http.Request) error {
	const op = "Service.Logout"
	if err := s.sessions.Destroy(w, req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}
