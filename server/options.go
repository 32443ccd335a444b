// SPDX-License-Identifier: MPL-2.0

package server

import (
	"io/fs"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/web"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option = oidc.Option

// DefaultPurgeInterval is how often expired sessions are removed from
// stores which don't expire them on their own.
const DefaultPurgeInterval = 10 * time.Minute

type options struct {
	withLogger        hclog.Logger
	withMetrics       *metrics.Metrics
	withStatic        fs.FS
	withShutdownGrace time.Duration
	withPurgeInterval time.Duration
}

func getDefaults() options {
	return options{
		withLogger:        hclog.NewNullLogger(),
		withStatic:        web.Public(),
		withShutdownGrace: 10 * time.Second,
		withPurgeInterval: DefaultPurgeInterval,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
//
// Valid for: Server, OpenStore
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics, which are also served on /metrics.
//
// Valid for: Server
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMetrics = m
		}
	}
}

// WithStatic provides an optional static site which replaces the embedded
// one.
//
// Valid for: Server
func WithStatic(fsys fs.FS) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fsys != nil {
			o.withStatic = fsys
		}
	}
}

// WithShutdownGrace overrides how long Run waits for requests in flight when
// its context is canceled.
//
// Valid for: Server
func WithShutdownGrace(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withShutdownGrace = d
		}
	}
}

// WithPurgeInterval overrides DefaultPurgeInterval.
//
// Valid for: OpenStore
func WithPurgeInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withPurgeInterval = d
		}
	}
}
