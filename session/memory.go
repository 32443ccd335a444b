// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hireadev/rbxauth/oidc"
)

// MemoryStore is a Store which keeps sessions in process memory. Expired
// sessions are removed when they're read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	expires  map[string]time.Time
	nowFunc  func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
//
// Supported options: WithNow
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getOpts(opt...)
	return &MemoryStore{
		sessions: map[string][]byte{},
		expires:  map[string]time.Time{},
		nowFunc:  opts.withNowFunc,
	}
}

// Get implements the Store interface.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	const op = "MemoryStore.Get"
	m.mu.RLock()
	b, ok := m.sessions[id]
	exp := m.expires[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if !exp.IsZero() && !m.now().Before(exp) {
		m.mu.Lock()
		// it may have been replaced since the read lock was released.
		if m.expires[id].Equal(exp) {
			delete(m.sessions, id)
			delete(m.expires, id)
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	s, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Set implements the Store interface.
func (m *MemoryStore) Set(_ context.Context, s *Session) error {
	const op = "MemoryStore.Set"
	if s == nil || s.ID == "" {
		return fmt.Errorf("%s: missing session id: %w", op, oidc.ErrInvalidParameter)
	}
	b, err := encode(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = b
	m.expires[s.ID] = s.ExpiresAt
	return nil
}

// Delete implements the Store interface.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.expires, id)
	return nil
}

// Len returns the number of stored sessions, including expired ones which
// haven't been read yet.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}
