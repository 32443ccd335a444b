// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/auth"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/oidc/callback"
	"github.com/hireadev/rbxauth/roblox"
)

// Paths the flow redirects between.
const (
	IndexPath     = "/index.html"
	DashboardPath = "/dashboard.html"
)

// Server is the site's http.Handler.
type Server struct {
	router  chi.Router
	auth    *auth.Service
	guard   *auth.Guard
	roblox  *roblox.Client
	static  fs.FS
	metrics *metrics.Metrics
	logger  hclog.Logger
	grace   time.Duration
}

// New creates a new Server.
//
// Supported options: WithLogger, WithMetrics, WithStatic, WithShutdownGrace
func New(svc *auth.Service, rc *roblox.Client, opt ...Option) (*Server, error) {
	const op = "server.New"
	switch {
	case svc == nil:
		return nil, fmt.Errorf("%s: auth service is nil: %w", op, oidc.ErrNilParameter)
	case rc == nil:
		return nil, fmt.Errorf("%s: roblox client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	guard, err := auth.NewGuard(svc, auth.WithLoginPath(IndexPath), auth.WithLogger(opts.withLogger.Named("guard")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &Server{
		auth:    svc,
		guard:   guard,
		roblox:  rc,
		static:  opts.withStatic,
		metrics: opts.withMetrics,
		logger:  opts.withLogger,
		grace:   opts.withShutdownGrace,
	}
	if err := s.routes(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Server) routes() error {
	complete, err := callback.AuthCode(context.Background(), s.auth,
		callback.RedirectOnSuccess(DashboardPath),
		s.callbackFailed,
	)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.CleanPath)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	// pages with explicit routes are matched before the static site
	r.Get("/", s.handleHome)
	r.Get(IndexPath, s.serveFile("index.html"))
	r.With(s.guard.Browser).Get(DashboardPath, s.serveFile("dashboard.html"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/oauth/roblox", s.handleLogin)
		r.Get("/oauth/callback", complete)
		r.Get("/logout", s.handleLogout)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.guard.API)
			r.Get("/me", s.handleMe)
			r.Get("/friends", s.proxy(roblox.APIFriends, s.roblox.Friends))
			r.Get("/badges", s.proxy(roblox.APIBadges, s.roblox.Badges))
			r.Get("/games", s.proxy(roblox.APIGames, s.roblox.Games))
		})
		r.With(s.guard.APIFresh).Post("/me/refresh", s.handleRefreshMe)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Handle("/*", http.FileServer(http.FS(publicFS{FS: s.static, hidden: "dashboard.html"})))

	s.router = r
	return nil
}

// publicFS is the static site minus a page that only a guarded route may
// serve.
type publicFS struct {
	fs.FS
	hidden string
}

func (p publicFS) Open(name string) (fs.File, error) {
	if path.Clean(name) == p.hidden {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return p.FS.Open(name)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	const op = "Server.Run"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	const op = "Server.Serve"
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
