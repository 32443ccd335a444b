// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/config"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
	"github.com/redis/go-redis/v9"
)

// OpenStore opens the session store the configuration names. The returned
// func releases the store's connections. SQL stores are purged of expired
// sessions until ctx is canceled.
//
// Supported options: WithLogger, WithPurgeInterval
func OpenStore(ctx context.Context, c *config.Config, opt ...Option) (session.Store, func() error, error) {
	const op = "server.OpenStore"
	if c == nil {
		return nil, nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	noop := func() error { return nil }

	switch c.SessionStore {
	case config.StoreMemory:
		return session.NewMemoryStore(), noop, nil

	case config.StoreSQLite, config.StorePostgres:
		d := session.DialectSQLite
		if c.SessionStore == config.StorePostgres {
			d = session.DialectPostgres
		}
		db, err := session.OpenDB(ctx, d, string(c.DatabaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		store, err := session.NewSQLStore(ctx, db, session.WithDialect(d))
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		purgeCtx, cancel := context.WithCancel(ctx)
		go purgeExpired(purgeCtx, store, opts.withPurgeInterval, opts.withLogger)
		return store, func() error {
			cancel()
			return db.Close()
		}, nil

	case config.StoreRedis:
		ro, err := redis.ParseURL(string(c.RedisURL))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: invalid redis url: %w: %w", op, oidc.ErrInvalidParameter, err)
		}
		client := redis.NewClient(ro)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		store, err := session.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return store, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%s: unknown session store %q: %w", op, c.SessionStore, oidc.ErrInvalidParameter)
	}
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeExpired(ctx context.Context, p purger, every time.Duration, logger hclog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeExpired(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Error("unable to purge expired sessions", "error", err)
			case n > 0:
				logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}
