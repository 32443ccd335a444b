// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
)

// Reasons a request is rejected.
const (
	ReasonUnauthenticated     = "unauthenticated"
	ReasonReauthenticate      = "reauthentication_required"
	ReasonProviderUnavailable = "provider_unavailable"
)

// ErrUnauthenticated is wrapped by a Rejection of a session without a login.
var ErrUnauthenticated = errors.New("unauthenticated")

// Rejection is returned by Authorize when the request may not proceed.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("request rejected: %s: %s", r.Reason, r.Err)
	}
	return "request rejected: " + r.Reason
}

// Unwrap returns the rejection's cause.
func (r *Rejection) Unwrap() error {
	if r.Err != nil {
		return r.Err
	}
	return ErrUnauthenticated
}

// Authorize returns the session's identity when it's authenticated and,
// if needFresh, when its access token is fresh or could be refreshed.
// Otherwise it returns a *Rejection.
func (s *Service) Authorize(ctx context.Context, sess *session.Session, needFresh bool) (*oidc.UserIdentity, error) {
	if !sess.Authenticated() {
		return nil, &Rejection{Reason: ReasonUnauthenticated}
	}
	if needFresh {
		if _, err := s.FreshAccessToken(ctx, sess.ID); err != nil {
			reason := ReasonReauthenticate
			if errors.Is(err, oidc.ErrProviderUnavailable) {
				reason = ReasonProviderUnavailable
			}
			return nil, &Rejection{Reason: reason, Err: err}
		}
	}
	ui := *sess.Identity
	return &ui, nil
}

type ctxKey int

const (
	identityKey ctxKey = iota
	sessionIDKey
)

// IdentityFromContext returns the identity a Guard put in the request's
// context.
func IdentityFromContext(ctx context.Context) (*oidc.UserIdentity, bool) {
	ui, ok := ctx.Value(identityKey).(*oidc.UserIdentity)
	return ui, ok && ui != nil
}

// SessionIDFromContext returns the session id a Guard put in the request's
// context, for use with Service.FreshAccessToken.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok && sid != ""
}

// Guard is http middleware which only lets authenticated sessions through.
// Downstream handlers get the identity and session id from the request's
// context, never the tokens.
type Guard struct {
	service   *Service
	loginPath string
	logger    hclog.Logger
}

// NewGuard creates a new Guard.
//
// Supported options: WithLoginPath, WithLogger
func NewGuard(s *Service, opt ...Option) (*Guard, error) {
	const op = "auth.NewGuard"
	if s == nil {
		return nil, fmt.Errorf("%s: service is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Guard{
		service:   s,
		loginPath: opts.withLoginPath,
		logger:    opts.withLogger,
	}, nil
}

// Browser guards pages: a rejected request is redirected to the login page.
func (g *Guard) Browser(next http.Handler) http.Handler {
	return g.guard(next, false, func(w http.ResponseWriter, req *http.Request, _ *Rejection) {
		http.Redirect(w, req, g.loginPath, http.StatusFound)
	})
}

// API guards JSON endpoints: a rejected request gets a 401.
func (g *Guard) API(next http.Handler) http.Handler {
	return g.guard(next, false, writeUnauthorized)
}

// APIFresh guards JSON endpoints which call upstream APIs with the user's
// access token: the token must also be fresh or refreshable.
func (g *Guard) APIFresh(next http.Handler) http.Handler {
	return g.guard(next, true, writeUnauthorized)
}

func (g *Guard) guard(next http.Handler, needFresh bool, reject func(http.ResponseWriter, *http.Request, *Rejection)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sess, err := g.service.sessions.Load(req)
		if err != nil {
			g.logger.Error("unable to load session", "error", err)
			reject(w, req, &Rejection{Reason: ReasonUnauthenticated, Err: err})
			return
		}
		ui, err := g.service.Authorize(req.Context(), sess, needFresh)
		if err != nil {
			var r *Rejection
			if !errors.As(err, &r) {
				r = &Rejection{Reason: ReasonUnauthenticated, Err: err}
			}
			if r.Err != nil {
				g.logger.Debug("request rejected", "reason", r.Reason, "error", r.Err)
			}
			reject(w, req, r)
			return
		}
		ctx := context.WithValue(req.Context(), identityKey, ui)
		ctx = context.WithValue(ctx, sessionIDKey, sess.ID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// writeUnauthorized writes a 401 JSON error. Every rejection looks the same
// to the client.
func writeUnauthorized(w http.ResponseWriter, _ *http.Request, _ *Rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ReasonUnauthenticated})
}
