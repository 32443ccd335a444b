// SPDX-License-Identifier: MPL-2.0

package roblox

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option = oidc.Option

type options struct {
	withHTTPClient *http.Client
	withBaseURLs   map[API]string
	withMetrics    *metrics.Metrics
	withLogger     hclog.Logger
}

func getDefaults() options {
	return options{
		withBaseURLs: map[API]string{},
		withLogger:   hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}

// WithBaseURL overrides the scheme and host used for one api.
func WithBaseURL(api API, baseURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withBaseURLs[api] = baseURL
		}
	}
}

// WithMetrics provides optional metrics for upstream requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMetrics = m
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}
