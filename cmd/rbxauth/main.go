// SPDX-License-Identifier: MPL-2.0

// Command rbxauth serves the "Sign in with Roblox" site.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/auth"
	"github.com/hireadev/rbxauth/config"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/roblox"
	"github.com/hireadev/rbxauth/server"
	"github.com/hireadev/rbxauth/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	m := metrics.New()
	rc, err := roblox.NewClient(
		roblox.WithMetrics(m),
		roblox.WithLogger(logger.Named("roblox")),
	)
	if err != nil {
		return err
	}

	oc, err := cfg.OIDC()
	if err != nil {
		return err
	}
	// discovery runs here; a provider which can't be discovered is fatal
	p, err := oidc.NewProvider(oc,
		oidc.WithLogger(logger.Named("oidc")),
		oidc.WithAvatarResolver(rc),
	)
	if err != nil {
		return err
	}
	defer p.Done()

	store, closeStore, err := server.OpenStore(ctx, cfg, server.WithLogger(logger.Named("store")))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("unable to close session store", "error", err)
		}
	}()
	sm, err := session.NewManager(store, []byte(cfg.SessionSecret),
		session.WithTTL(cfg.SessionTTL),
		session.WithSecureCookie(cfg.CookieSecure),
		session.WithLogger(logger.Named("session")),
	)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(p, sm,
		auth.WithLogger(logger.Named("auth")),
		auth.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	srv, err := server.New(svc, rc,
		server.WithLogger(logger.Named("http")),
		server.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	logger.Info("starting", "issuer", oc.Issuer, "session_store", cfg.SessionStore)
	return srv.Run(ctx, cfg.Addr())
}
