// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testSecret       = "0123456789abcdef0123456789abcdef"
)

// testEnv is a browser, an app server using the Service and a TestProvider.
type testEnv struct {
	tp       *oidc.TestProvider
	provider *oidc.Provider
	store    *session.MemoryStore
	svc      *Service
	metrics  *metrics.Metrics
	srv      *httptest.Server

	browser    *http.Client
	idpBrowser *http.Client

	mu      sync.Mutex
	lastErr error
}

// err returns the error of the last callback.
func (e *testEnv) err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require := require.New(t)
	e := &testEnv{tp: oidc.StartTestProvider(t), metrics: metrics.New()}

	mux := http.NewServeMux()
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	redirect := e.srv.URL + "/api/oauth/callback"

	e.tp.SetClientCreds(testClientID, testClientSecret)
	e.tp.SetAllowedRedirectURIs(redirect)
	cfg, err := oidc.NewConfig(e.tp.Addr(), testClientID, testClientSecret, redirect,
		oidc.WithProviderCA(e.tp.CACert()),
		oidc.WithScopes("openid", "profile"),
		oidc.WithRequestTimeout(2*time.Second),
	)
	require.NoError(err)
	e.provider, err = oidc.NewProvider(cfg, oidc.WithRetryInterval(time.Millisecond))
	require.NoError(err)
	t.Cleanup(e.provider.Done)

	e.store = session.NewMemoryStore()
	m, err := session.NewManager(e.store, []byte(testSecret))
	require.NoError(err)
	e.svc, err = NewService(e.provider, m, WithMetrics(e.metrics))
	require.NoError(err)
	guard, err := NewGuard(e.svc)
	require.NoError(err)

	mux.HandleFunc("/api/oauth/roblox", func(w http.ResponseWriter, req *http.Request) {
		u, err := e.svc.Login(w, req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, u, http.StatusFound)
	})
	mux.HandleFunc("/api/oauth/callback", func(w http.ResponseWriter, req *http.Request) {
		ui, err := e.svc.Complete(w, req)
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		if err != nil {
			http.Redirect(w, req, "/index.html?error=oauth_failed", http.StatusFound)
			return
		}
		_ = json.NewEncoder(w).Encode(ui)
	})
	mux.HandleFunc("/api/logout", func(w http.ResponseWriter, req *http.Request) {
		if err := e.svc.Logout(w, req); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, "/index.html", http.StatusFound)
	})
	mux.Handle("/api/me", guard.API(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ui, _ := IdentityFromContext(req.Context())
		_ = json.NewEncoder(w).Encode(ui)
	})))
	mux.Handle("/dashboard.html", guard.Browser(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("dashboard"))
	})))

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(err)
	noRedirects := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	e.browser = &http.Client{Jar: jar, CheckRedirect: noRedirects}
	e.idpBrowser, err = cfg.HttpClient()
	require.NoError(err)
	e.idpBrowser.CheckRedirect = noRedirects
	return e
}

// get fetches path from the app server and returns the response and body.
func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.browser.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

// authorize starts a login and lets the provider answer, returning the
// callback URL the provider redirected to.
func (e *testEnv) authorize(t *testing.T, code string) *url.URL {
	t.Helper()
	require := require.New(t)
	e.tp.SetExpectedAuthCode(code)
	resp, _ := e.get(t, "/api/oauth/roblox")
	require.Equal(http.StatusFound, resp.StatusCode)

	idpResp, err := e.idpBrowser.Get(resp.Header.Get("Location"))
	require.NoError(err)
	defer idpResp.Body.Close()
	require.Equal(http.StatusFound, idpResp.StatusCode)
	cb, err := url.Parse(idpResp.Header.Get("Location"))
	require.NoError(err)
	return cb
}

// login runs a whole successful login.
func (e *testEnv) login(t *testing.T, code string) {
	t.Helper()
	cb := e.authorize(t, code)
	resp, _ := e.get(t, cb.RequestURI())
	require.Equal(t, http.StatusOK, resp.StatusCode, "login failed: %v", e.err())
}

// sessionID returns the id of the only stored session.
func (e *testEnv) sessionID(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(e.srv.URL)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range e.browser.Jar.Cookies(u) {
		req.AddCookie(c)
	}
	sess, err := e.svc.Sessions().Load(req)
	require.NoError(t, err)
	_, err = e.store.Get(req.Context(), sess.ID)
	require.NoError(t, err, "session isn't stored")
	return sess.ID
}

func TestNewService(t *testing.T) {
	t.Parallel()
	m, err := session.NewManager(session.NewMemoryStore(), []byte(testSecret))
	require.NoError(t, err)
	_, err = NewService(nil, m)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
	_, err = NewService(&testProvider{}, nil)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
	_, err = NewGuard(nil)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
}

func TestService_LoginFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := newTestEnv(t)

	resp, body := e.get(t, "/api/me")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(`{"error":"unauthenticated"}`, body)
	resp, _ = e.get(t, "/dashboard.html")
	assert.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal("/index.html", resp.Header.Get("Location"))

	cb := e.authorize(t, "code-1")
	preLogin := e.sessionID(t)
	resp, body = e.get(t, cb.RequestURI())
	require.Equal(http.StatusOK, resp.StatusCode, "login failed: %v", e.err())
	assert.JSONEq(`{"id":"123456","username":"builderY","displayName":"Builder Y"}`, body)

	sid := e.sessionID(t)
	assert.NotEqual(preLogin, sid, "the session id changes on login")
	assert.Equal(1, e.store.Len())
	sess, err := e.store.Get(context.Background(), sid)
	require.NoError(err)
	assert.True(sess.Authenticated())
	assert.Nil(sess.Transaction)
	assert.Nil(sess.AuthFailure)
	assert.Equal("123456", sess.Tokens.Subject)

	resp, body = e.get(t, "/api/me")
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.JSONEq(`{"id":"123456","username":"builderY","displayName":"Builder Y"}`, body)
	assert.NotContains(body, "access-token")
	assert.NotContains(body, "refresh-token")
	resp, body = e.get(t, "/dashboard.html")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("dashboard", body)
	assert.Equal(1.0, testutil.ToFloat64(e.metrics.Logins.WithLabelValues(metrics.OutcomeSuccess)))

	// replaying the callback fails and leaves the login alone
	resp, _ = e.get(t, cb.RequestURI())
	assert.Equal(http.StatusFound, resp.StatusCode)
	assert.ErrorIs(e.err(), oidc.ErrStateMismatch)
	resp, _ = e.get(t, "/api/me")
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = e.get(t, "/api/logout")
	assert.Equal(http.StatusFound, resp.StatusCode)
	assert.Equal(0, e.store.Len())
	resp, _ = e.get(t, "/api/me")
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestService_CompleteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(e *testEnv)
		mutate      func(q url.Values)
		wantIsErr   error
		wantOutcome string
	}{
		{
			name:        "state-mismatch",
			mutate:      func(q url.Values) { q.Set("state", "xyz") },
			wantIsErr:   oidc.ErrStateMismatch,
			wantOutcome: metrics.OutcomeStateMismatch,
		},
		{
			name:        "missing-code",
			mutate:      func(q url.Values) { q.Del("code") },
			wantIsErr:   oidc.ErrMissingParameter,
			wantOutcome: metrics.OutcomeMissingParameter,
		},
		{
			name:        "provider-error-with-code",
			mutate:      func(q url.Values) { q.Set("error", "access_denied") },
			wantIsErr:   oidc.ErrMissingParameter,
			wantOutcome: metrics.OutcomeMissingParameter,
		},
		{
			name:        "invalid-grant",
			setup:       func(e *testEnv) { e.tp.SetTokenError(http.StatusBadRequest, `{"error":"invalid_grant"}`) },
			wantIsErr:   oidc.ErrTokenExchangeFailed,
			wantOutcome: metrics.OutcomeExchangeFailed,
		},
		{
			name:        "nonce-mismatch",
			setup:       func(e *testEnv) { e.tp.SetExpectedAuthNonce("not-the-nonce") },
			wantIsErr:   oidc.ErrNonceMismatch,
			wantOutcome: metrics.OutcomeNonceMismatch,
		},
		{
			name:        "userinfo-unavailable",
			setup:       func(e *testEnv) { e.tp.SetUserInfoStatus(http.StatusServiceUnavailable) },
			wantIsErr:   oidc.ErrProviderUnavailable,
			wantOutcome: metrics.OutcomeProviderUnavailable,
		},
		{
			name:        "userinfo-subject-differs",
			setup:       func(e *testEnv) { e.tp.SetUserInfoReply(map[string]interface{}{"sub": "999", "name": "Imposter"}) },
			wantIsErr:   oidc.ErrMalformedIdentity,
			wantOutcome: metrics.OutcomeMalformedIdentity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			e := newTestEnv(t)
			cb := e.authorize(t, "code-1")
			if tt.setup != nil {
				tt.setup(e)
			}
			q := cb.Query()
			if tt.mutate != nil {
				tt.mutate(q)
			}
			resp, _ := e.get(t, cb.Path+"?"+q.Encode())
			assert.Equal(http.StatusFound, resp.StatusCode)
			assert.Equal("/index.html?error=oauth_failed", resp.Header.Get("Location"))
			require.Error(e.err())
			assert.ErrorIs(e.err(), tt.wantIsErr)
			if tt.wantIsErr == oidc.ErrTokenExchangeFailed {
				var exchangeErr *oidc.TokenExchangeError
				require.True(errors.As(e.err(), &exchangeErr))
				assert.Equal(http.StatusBadRequest, exchangeErr.StatusCode)
				assert.Contains(exchangeErr.Body, "invalid_grant")
			}

			sess, err := e.store.Get(context.Background(), e.sessionID(t))
			require.NoError(err)
			assert.False(sess.Authenticated())
			assert.Nil(sess.Tokens)
			assert.Nil(sess.Identity)
			assert.Nil(sess.Transaction, "the transaction is consumed")
			require.NotNil(sess.AuthFailure)
			assert.Equal(tt.wantOutcome, sess.AuthFailure.Reason)
			assert.Equal(1.0, testutil.ToFloat64(e.metrics.Logins.WithLabelValues(tt.wantOutcome)))

			resp, _ = e.get(t, "/api/me")
			assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestService_CompleteWithoutSession(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := newTestEnv(t)
	resp, _ := e.get(t, "/api/oauth/callback?state=abc&code=code-1")
	assert.Equal(http.StatusFound, resp.StatusCode)
	assert.ErrorIs(e.err(), oidc.ErrStateMismatch)
	assert.Equal(0, e.store.Len())
	assert.Equal(0, e.tp.Count("token"))
}
