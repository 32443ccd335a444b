// SPDX-License-Identifier: MPL-2.0

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hireadev/rbxauth/oidc"
)

// record is the stored form of a Session. The oidc token types redact
// themselves when marshaled, so their raw values are copied into plain
// strings here.
type record struct {
	ID          string             `json:"id"`
	Transaction *oidc.Transaction  `json:"transaction,omitempty"`
	Tokens      *tokenRecord       `json:"tokens,omitempty"`
	Identity    *oidc.UserIdentity `json:"identity,omitempty"`
	AuthFailure *AuthFailure       `json:"auth_failure,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

type tokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        []string  `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Subject      string    `json:"subject,omitempty"`
}

// encode returns the stored form of s.
func encode(s *Session) ([]byte, error) {
	const op = "session.encode"
	if s == nil {
		return nil, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	r := record{
		ID:          s.ID,
		Transaction: s.Transaction,
		Identity:    s.Identity,
		AuthFailure: s.AuthFailure,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		ExpiresAt:   s.ExpiresAt,
	}
	if t := s.Tokens; t != nil {
		r.Tokens = &tokenRecord{
			AccessToken:  string(t.AccessToken),
			RefreshToken: string(t.RefreshToken),
			IDToken:      string(t.IDToken),
			ExpiresAt:    t.ExpiresAt,
			Scope:        t.Scope,
			TokenType:    t.TokenType,
			Subject:      t.Subject,
		}
	}
	b, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// decode parses the stored form of a session.
func decode(b []byte) (*Session, error) {
	const op = "session.decode"
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &Session{
		ID:          r.ID,
		Transaction: r.Transaction,
		Identity:    r.Identity,
		AuthFailure: r.AuthFailure,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
	if t := r.Tokens; t != nil {
		s.Tokens = &oidc.TokenSet{
			AccessToken:  oidc.AccessToken(t.AccessToken),
			RefreshToken: oidc.RefreshToken(t.RefreshToken),
			IDToken:      oidc.IDToken(t.IDToken),
			ExpiresAt:    t.ExpiresAt,
			Scope:        t.Scope,
			TokenType:    t.TokenType,
			Subject:      t.Subject,
		}
	}
	return s, nil
}

// clone returns a deep copy of s by round tripping it through the stored
// form.
func clone(s *Session) (*Session, error) {
	b, err := encode(s)
	if err != nil {
		return nil, err
	}
	return decode(b)
}
