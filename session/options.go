// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option = oidc.Option

// options is the set of available options for session functions.
type options struct {
	withNowFunc     func() time.Time
	withTTL         time.Duration
	withSecure      bool
	withCookieName  string
	withCookiePath  string
	withKeyPrefix   string
	withLogger      hclog.Logger
	withLockStripes int
	withSQLDialect  Dialect
	withSkipMigrate bool
}

func getDefaults() options {
	return options{
		withTTL:         DefaultTTL,
		withCookieName:  DefaultCookieName,
		withCookiePath:  "/",
		withKeyPrefix:   DefaultRedisKeyPrefix,
		withLogger:      hclog.NewNullLogger(),
		withLockStripes: DefaultLockStripes,
		withSQLDialect:  DialectSQLite,
	}
}

// getOpts gets the defaults and applies the opt overrides passed in.
func getOpts(opt ...Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: MemoryStore, SQLStore, Manager
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithTTL provides an optional idle lifetime for sessions.
//
// Valid for: Manager
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && ttl > 0 {
			o.withTTL = ttl
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
//
// Valid for: Manager
func WithSecureCookie(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSecure = secure
		}
	}
}

// WithCookieName provides an optional session cookie name.
//
// Valid for: Manager
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithKeyPrefix provides an optional key prefix.
//
// Valid for: RedisStore
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && prefix != "" {
			o.withKeyPrefix = prefix
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithLockStripes provides an optional number of lock stripes.
//
// Valid for: Locker
func WithLockStripes(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n > 0 {
			o.withLockStripes = n
		}
	}
}

// WithDialect provides the SQL dialect of the database.
//
// Valid for: SQLStore
func WithDialect(d Dialect) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d != "" {
			o.withSQLDialect = d
		}
	}
}

// WithoutMigrate skips applying the schema migrations.
//
// Valid for: SQLStore
func WithoutMigrate() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSkipMigrate = true
		}
	}
}
