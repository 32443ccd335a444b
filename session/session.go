// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/sdk/id"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 7 * 24 * time.Hour

// idPrefix is the prefix of every session id.
const idPrefix = "sess"

// ErrNotFound is returned by a Store when the session doesn't exist or has
// expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions by id. Implementations must be safe for concurrent
// use and must store a copy: mutating a Session after Set, or one returned by
// Get, never changes what's stored.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Set creates or replaces the session.
	Set(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting a missing session isn't an error.
	Delete(ctx context.Context, id string) error
}

// AuthFailure records why the most recent login attempt failed.
type AuthFailure struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Session is the server side state of one browser session. A session is
// authenticated only when both Tokens and Identity are set, and they're only
// ever set or cleared together.
type Session struct {
	ID string

	// Transaction is the pending login attempt, if any.
	Transaction *oidc.Transaction

	Tokens   *oidc.TokenSet
	Identity *oidc.UserIdentity

	AuthFailure *AuthFailure

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// New creates an empty session with a new random id which expires after ttl.
func New(ttl time.Duration, now time.Time) (*Session, error) {
	const op = "session.New"
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, oidc.ErrInvalidParameter)
	}
	sid, err := id.New(idPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	return &Session{
		ID:        sid,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Authenticated returns true when the session holds both tokens and an
// identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.Tokens != nil && s.Identity != nil
}

// SetAuthenticated stores the tokens and identity of a successful login. It
// also discards any pending transaction and clears the last failure.
func (s *Session) SetAuthenticated(ts *oidc.TokenSet, ui *oidc.UserIdentity) error {
	const op = "Session.SetAuthenticated"
	switch {
	case ts == nil:
		return fmt.Errorf("%s: token set is nil: %w", op, oidc.ErrNilParameter)
	case ui == nil:
		return fmt.Errorf("%s: identity is nil: %w", op, oidc.ErrNilParameter)
	}
	s.Tokens = ts
	s.Identity = ui
	s.Transaction = nil
	s.AuthFailure = nil
	return nil
}

// ClearAuthentication removes the tokens and the identity.
func (s *Session) ClearAuthentication() {
	s.Tokens = nil
	s.Identity = nil
}

// Fail records a failed login attempt and discards the pending transaction.
// An existing authentication is left alone.
func (s *Session) Fail(reason string, now time.Time) {
	s.Transaction = nil
	s.AuthFailure = &AuthFailure{Reason: reason, At: now}
}

// TakeTransaction returns the pending transaction and detaches it from the
// session, so it can be consumed only once.
func (s *Session) TakeTransaction() *oidc.Transaction {
	tx := s.Transaction
	s.Transaction = nil
	return tx
}

// Touch records a modification at now and slides the expiry forward by ttl.
func (s *Session) Touch(ttl time.Duration, now time.Time) {
	s.UpdatedAt = now
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
}

// IsExpired returns true when the session's expiry is not after now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
