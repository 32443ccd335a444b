// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/sdk/id"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "sid"

	// MinSecretLength is the minimum length of the session secret.
	MinSecretLength = 32

	// cookieValueKey is the key of the session id within the cookie.
	cookieValueKey = "sid"
)

// Manager binds browser requests to stored sessions. The browser only ever
// receives the session id, in an HttpOnly, SameSite=Lax cookie which is
// signed and encrypted with keys derived from the session secret.
type Manager struct {
	store   Store
	cookies *sessions.CookieStore
	name    string
	ttl     time.Duration
	locker  *Locker
	logger  hclog.Logger
	nowFunc func() time.Time
}

// NewManager creates a new Manager. The secret must be at least
// MinSecretLength bytes.
//
// Supported options: WithTTL, WithSecureCookie, WithCookieName, WithLogger,
// WithLockStripes, WithNow
func NewManager(store Store, secret []byte, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, oidc.ErrNilParameter)
	case len(secret) < MinSecretLength:
		return nil, fmt.Errorf("%s: session secret must be at least %d bytes: %w", op, MinSecretLength, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)

	hashKey := sha256.Sum256(append([]byte("rbxauth-session-hash:"), secret...))
	blockKey := sha256.Sum256(append([]byte("rbxauth-session-block:"), secret...))
	cs := sessions.NewCookieStore(hashKey[:], blockKey[:])
	cs.MaxAge(int(opts.withTTL / time.Second))
	cs.Options.Path = opts.withCookiePath
	cs.Options.HttpOnly = true
	cs.Options.Secure = opts.withSecure
	cs.Options.SameSite = http.SameSiteLaxMode

	return &Manager{
		store:   store,
		cookies: cs,
		name:    opts.withCookieName,
		ttl:     opts.withTTL,
		locker:  NewLocker(opt...),
		logger:  opts.withLogger,
		nowFunc: opts.withNowFunc,
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.name }

// Store returns the manager's Store.
func (m *Manager) Store() Store { return m.store }

// Lock locks the session id for a read-modify-write cycle and returns the
// func which unlocks it.
func (m *Manager) Lock(id string) (unlock func()) { return m.locker.Lock(id) }

// Load returns the request's session. A request without a valid session
// cookie, or whose session no longer exists, gets a new session which isn't
// stored until it's saved.
func (m *Manager) Load(req *http.Request) (*Session, error) {
	const op = "Manager.Load"
	if sid := m.sessionID(req); sid != "" {
		s, err := m.store.Get(req.Context(), sid)
		switch {
		case err == nil:
			return s, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	s, err := New(m.ttl, m.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Get returns the stored session with the id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Set stores the session and slides its expiry forward, without touching
// the cookie.
func (m *Manager) Set(ctx context.Context, s *Session) error {
	const op = "Manager.Set"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	s.Touch(m.ttl, m.now())
	if err := m.store.Set(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Save stores the session and writes the session cookie.
func (m *Manager) Save(w http.ResponseWriter, req *http.Request, s *Session) error {
	const op = "Manager.Save"
	if err := m.Set(req.Context(), s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	gs, err := m.cookies.Get(req, m.name)
	if err != nil {
		m.logger.Debug("replacing undecodable session cookie", "error", err)
	}
	gs.Values[cookieValueKey] = s.ID
	gs.Options.MaxAge = int(m.ttl / time.Second)
	if err := gs.Save(req, w); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Rotate gives the session a new id and deletes the stored session under
// the old one. It must be followed by Save.
func (m *Manager) Rotate(ctx context.Context, s *Session) error {
	const op = "Manager.Rotate"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	sid, err := id.New(idPrefix)
	if err != nil {
		return fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	old := s.ID
	s.ID = sid
	if err := m.store.Delete(ctx, old); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Destroy deletes the request's stored session and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, req *http.Request) error {
	const op = "Manager.Destroy"
	if sid := m.sessionID(req); sid != "" {
		if err := m.store.Delete(req.Context(), sid); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	gs, _ := m.cookies.Get(req, m.name)
	delete(gs.Values, cookieValueKey)
	gs.Options.MaxAge = -1
	if err := gs.Save(req, w); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// sessionID returns the session id from the request's cookie, or an empty
// string.
func (m *Manager) sessionID(req *http.Request) string {
	gs, err := m.cookies.Get(req, m.name)
	if err != nil {
		return ""
	}
	sid, _ := gs.Values[cookieValueKey].(string)
	return sid
}

func (m *Manager) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}
