// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option = oidc.Option

// DefaultLoginPath is where the browser guard sends users without a session.
const DefaultLoginPath = "/index.html"

type options struct {
	withLogger    hclog.Logger
	withMetrics   *metrics.Metrics
	withNowFunc   func() time.Time
	withLoginPath string
}

func getDefaults() options {
	return options{
		withLogger:    hclog.NewNullLogger(),
		withLoginPath: DefaultLoginPath,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
//
// Valid for: Service, Guard
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics.
//
// Valid for: Service
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMetrics = m
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: Service
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithLoginPath provides an optional path the browser guard redirects to.
//
// Valid for: Guard
func WithLoginPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && p != "" {
			o.withLoginPath = p
		}
	}
}
