// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/config"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name      string
		cfg       *config.Config
		wantType  interface{}
		wantIsErr error
	}{
		{
			name:     "memory",
			cfg:      &config.Config{SessionStore: config.StoreMemory},
			wantType: &session.MemoryStore{},
		},
		{
			name:     "sqlite",
			cfg:      &config.Config{SessionStore: config.StoreSQLite, DatabaseURL: config.Secret(filepath.Join(t.TempDir(), "sessions.db"))},
			wantType: &session.SQLStore{},
		},
		{
			name:     "redis",
			cfg:      &config.Config{SessionStore: config.StoreRedis, RedisURL: config.Secret("redis://" + mr.Addr() + "/0")},
			wantType: &session.RedisStore{},
		},
		{
			name:      "bad-redis-url",
			cfg:       &config.Config{SessionStore: config.StoreRedis, RedisURL: "mongodb://localhost"},
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:      "unknown",
			cfg:       &config.Config{SessionStore: "mongo"},
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:      "nil",
			wantIsErr: oidc.ErrNilParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			store, closeFn, err := OpenStore(ctx, tt.cfg)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			defer func() { assert.NoError(closeFn()) }()
			assert.IsType(tt.wantType, store)

			sess, err := session.New(time.Hour, time.Now())
			require.NoError(err)
			require.NoError(store.Set(ctx, sess))
			got, err := store.Get(ctx, sess.ID)
			require.NoError(err)
			assert.Equal(sess.ID, got.ID)
		})
	}
}

type testPurger struct {
	calls atomic.Int32
	err   error
}

func (p *testPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 1, p.err
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()
	for _, purgeErr := range []error{nil, errors.New("database is locked")} {
		p := &testPurger{err: purgeErr}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			purgeExpired(ctx, p, time.Millisecond, hclog.NewNullLogger())
		}()
		require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, time.Millisecond)
		cancel()
		<-done
	}
}
