// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the Prometheus collectors of the login service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hireadev/rbxauth/oidc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rbxauth"

// Outcomes used as the "outcome" label.
const (
	OutcomeSuccess             = "success"
	OutcomeMissingParameter    = "missing_parameter"
	OutcomeStateMismatch       = "state_mismatch"
	OutcomeNonceMismatch       = "nonce_mismatch"
	OutcomeExchangeFailed      = "token_exchange_failed"
	OutcomeReauthRequired      = "reauthentication_required"
	OutcomeMalformedIdentity   = "malformed_identity"
	OutcomeProviderUnavailable = "provider_unavailable"
	OutcomeError               = "error"
)

// Outcome classifies err into one of the outcome label values.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, oidc.ErrMissingParameter):
		return OutcomeMissingParameter
	case errors.Is(err, oidc.ErrStateMismatch):
		return OutcomeStateMismatch
	case errors.Is(err, oidc.ErrNonceMismatch):
		return OutcomeNonceMismatch
	case errors.Is(err, oidc.ErrTokenExchangeFailed):
		return OutcomeExchangeFailed
	case errors.Is(err, oidc.ErrReauthenticationRequired):
		return OutcomeReauthRequired
	case errors.Is(err, oidc.ErrMalformedIdentity):
		return OutcomeMalformedIdentity
	case errors.Is(err, oidc.ErrProviderUnavailable):
		return OutcomeProviderUnavailable
	default:
		return OutcomeError
	}
}

// Metrics is the set of collectors, registered with their own registry.
type Metrics struct {
	registry *prometheus.Registry

	Logins       *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
	Upstream     *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers the collectors, along with the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Completed login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Access token refreshes by outcome.",
			},
			[]string{"outcome"},
		),
		Upstream: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Requests to the Roblox public APIs by api and status code.",
			},
			[]string{"api", "code"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request latency.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
	m.registry.MustRegister(
		m.Logins,
		m.Refreshes,
		m.Upstream,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the /metrics http.Handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveLogin counts a completed login attempt. It's safe to call on a nil
// Metrics.
func (m *Metrics) ObserveLogin(err error) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(Outcome(err)).Inc()
}

// ObserveRefresh counts a token refresh. It's safe to call on a nil Metrics.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(Outcome(err)).Inc()
}

// ObserveUpstream counts a request to a Roblox API. A zero code means the
// request failed before a response. It's safe to call on a nil Metrics.
func (m *Metrics) ObserveUpstream(api string, code int) {
	if m == nil {
		return
	}
	m.Upstream.WithLabelValues(api, strconv.Itoa(code)).Inc()
}

// ObserveHTTP records a served request. It's safe to call on a nil Metrics.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
