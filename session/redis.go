// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hireadev/rbxauth/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to session ids to form Redis keys.
const DefaultRedisKeyPrefix = "rbxauth:session:"

// RedisStore is a Store backed by Redis. The session's ExpiresAt becomes the
// key's TTL, so Redis removes expired sessions itself.
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	nowFunc func() time.Time
}

// NewRedisStore creates a new RedisStore.
//
// Supported options: WithKeyPrefix, WithNow
func NewRedisStore(client redis.Cmdable, opt ...Option) (*RedisStore, error) {
	const op = "session.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &RedisStore{
		client:  client,
		prefix:  opts.withKeyPrefix,
		nowFunc: opts.withNowFunc,
	}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Get implements the Store interface.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	const op = "RedisStore.Get"
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Set implements the Store interface. A session which has already expired is
// deleted instead.
func (r *RedisStore) Set(ctx context.Context, s *Session) error {
	const op = "RedisStore.Set"
	if s == nil || s.ID == "" {
		return fmt.Errorf("%s: missing session id: %w", op, oidc.ErrInvalidParameter)
	}
	var ttl time.Duration
	if !s.ExpiresAt.IsZero() {
		ttl = s.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return r.Delete(ctx, s.ID)
		}
	}
	b, err := encode(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements the Store interface.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	const op = "RedisStore.Delete"
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisStore) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}
