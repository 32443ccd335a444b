// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
)

// FreshAccessToken returns an access token for the session which is good
// for at least oidc.DefaultTokenExpirySkew. A fresh token is returned
// without any network call. Otherwise the token is refreshed, and concurrent
// callers for the same session share a single refresh.
//
// When the provider rejects the refresh the session's tokens and identity
// are cleared together and oidc.ErrReauthenticationRequired is returned.
// When the provider is unavailable the tokens are kept and
// oidc.ErrProviderUnavailable is returned.
func (s *Service) FreshAccessToken(ctx context.Context, sessionID string) (oidc.AccessToken, error) {
	const op = "Service.FreshAccessToken"
	sess, err := s.authenticatedSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if sess.Tokens.IsFresh(oidc.WithNow(s.nowFunc)) {
		return sess.Tokens.AccessToken, nil
	}
	// the shared refresh must not be canceled by whichever caller started it;
	// each provider attempt is bounded by its own timeout.
	v, err, _ := s.refreshes.Do(sessionID, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx), sessionID)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v.(oidc.AccessToken), nil
}

// refresh refreshes the session's tokens. The session isn't locked while
// the provider is called; the result is written back only if the session
// still holds the refresh token that was used.
func (s *Service) refresh(ctx context.Context, sessionID string) (oidc.AccessToken, error) {
	const op = "Service.refresh"
	sess, err := s.authenticatedSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if sess.Tokens.IsFresh(oidc.WithNow(s.nowFunc)) {
		return sess.Tokens.AccessToken, nil
	}
	used := sess.Tokens.RefreshToken
	ts := *sess.Tokens
	at, refreshErr := s.provider.EnsureFresh(ctx, &ts)
	s.metrics.ObserveRefresh(refreshErr)

	switch {
	case errors.Is(refreshErr, oidc.ErrReauthenticationRequired):
		s.logger.Info("refresh rejected, reauthentication required", "error", refreshErr)
		if err := s.update(ctx, sessionID, func(cur *session.Session) bool {
			if !cur.Authenticated() || cur.Tokens.RefreshToken != used {
				return false
			}
			cur.ClearAuthentication()
			return true
		}); err != nil {
			s.logger.Error("unable to clear session tokens", "error", err)
		}
		return "", fmt.Errorf("%s: %w", op, refreshErr)
	case refreshErr != nil:
		s.logger.Warn("refresh failed, keeping tokens", "error", refreshErr)
		return "", fmt.Errorf("%s: %w", op, refreshErr)
	}

	if err := s.update(ctx, sessionID, func(cur *session.Session) bool {
		if !cur.Authenticated() || cur.Tokens.RefreshToken != used {
			return false
		}
		cur.Tokens = &ts
		return true
	}); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return at, nil
}

// RefreshIdentity fetches the session's identity from the provider again
// and stores it. The subject must not change.
func (s *Service) RefreshIdentity(ctx context.Context, sessionID string) (*oidc.UserIdentity, error) {
	const op = "Service.RefreshIdentity"
	at, err := s.FreshAccessToken(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess, err := s.authenticatedSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Identity.Subject is parsed and may not be the raw "sub", so it's only
	// compared after the fetch.
	var opts []oidc.Option
	if sess.Tokens.Subject != "" {
		opts = append(opts, oidc.WithExpectedSubject(sess.Tokens.Subject))
	}
	ui, err := s.provider.FetchIdentity(ctx, at, opts...)
	switch {
	case errors.Is(err, oidc.ErrReauthenticationRequired):
		if err := s.update(ctx, sessionID, func(cur *session.Session) bool {
			if !cur.Authenticated() || cur.Tokens.AccessToken != at {
				return false
			}
			cur.ClearAuthentication()
			return true
		}); err != nil {
			s.logger.Error("unable to clear session tokens", "error", err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ui.Subject != sess.Identity.Subject {
		return nil, fmt.Errorf("%s: subject changed: %w", op, oidc.ErrMalformedIdentity)
	}
	if err := s.update(ctx, sessionID, func(cur *session.Session) bool {
		if !cur.Authenticated() || cur.Identity.Subject != ui.Subject {
			return false
		}
		cur.Identity = ui
		return true
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ui, nil
}

// authenticatedSession returns the stored session, or
// oidc.ErrReauthenticationRequired when it's missing or not authenticated.
func (s *Service) authenticatedSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("no session: %w", oidc.ErrReauthenticationRequired)
	case err != nil:
		return nil, err
	case !sess.Authenticated():
		return nil, fmt.Errorf("session isn't authenticated: %w", oidc.ErrReauthenticationRequired)
	}
	return sess, nil
}

// update runs fn on the stored session under the session's lock and stores
// the session when fn returns true. A missing session isn't updated.
func (s *Service) update(ctx context.Context, sessionID string, fn func(*session.Session) bool) error {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()
	sess, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if !fn(sess) {
		return nil
	}
	return s.sessions.Set(ctx, sess)
}
