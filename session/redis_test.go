// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisStore(t *testing.T, opt ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisStore(client, opt...)
	require.NoError(t, err)
	return s, mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	s, _ := testRedisStore(t)
	testStoreConformance(t, s, time.Now())

	_, err := NewRedisStore(nil)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
}

func TestRedisStore_TTL(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s, mr := testRedisStore(t, WithKeyPrefix("test:"), WithNow(func() time.Time { return now }))

	sess := testAuthenticatedSession(t, now)
	require.NoError(s.Set(ctx, sess))
	assert.True(mr.Exists("test:" + sess.ID))
	assert.Equal(time.Hour, mr.TTL("test:"+sess.ID))

	mr.FastForward(time.Hour)
	_, err := s.Get(ctx, sess.ID)
	assert.ErrorIs(err, ErrNotFound)

	// an already expired session is removed rather than stored
	require.NoError(s.Set(ctx, testAuthenticatedSession(t, now)))
	expired := testAuthenticatedSession(t, now)
	expired.ExpiresAt = now.Add(-time.Second)
	require.NoError(s.Set(ctx, expired))
	assert.False(mr.Exists("test:" + expired.ID))
}
