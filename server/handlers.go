// SPDX-License-Identifier: MPL-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/hireadev/rbxauth/auth"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	"github.com/hireadev/rbxauth/oidc/callback"
	"github.com/hireadev/rbxauth/roblox"
)

func (s *Server) handleHome(w http.ResponseWriter, req *http.Request) {
	sess, err := s.auth.Sessions().Load(req)
	if err == nil && sess.Authenticated() {
		http.Redirect(w, req, DashboardPath, http.StatusFound)
		return
	}
	s.serveFile("index.html")(w, req)
}

// serveFile serves a file of the static site without the file server's
// index.html redirect.
func (s *Server) serveFile(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		b, err := fs.ReadFile(s.static, name)
		if err != nil {
			s.logger.Error("unable to read static file", "name", name, "error", err)
			http.NotFound(w, req)
			return
		}
		if path.Ext(name) == ".html" {
			w.Header().Set("Cache-Control", "no-store")
		}
		http.ServeContent(w, req, name, time.Time{}, bytes.NewReader(b))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, req *http.Request) {
	authURL, err := s.auth.Login(w, req)
	if err != nil {
		s.logger.Error("unable to start login", "error", err)
		s.callbackFailed("", nil, err, w, req)
		return
	}
	http.Redirect(w, req, authURL, http.StatusFound)
}

// callbackFailed sends the user agent back to the index page with an error
// code. The cause is only logged.
func (s *Server) callbackFailed(state string, respErr *callback.AuthenErrorResponse, err error, w http.ResponseWriter, req *http.Request) {
	if respErr != nil {
		s.logger.Warn("provider denied login", "error", respErr.Error, "description", respErr.Description)
	} else {
		s.logger.Debug("login failed", "outcome", metrics.Outcome(err), "error", err)
	}
	callback.RedirectOnError(IndexPath)(state, respErr, err, w, req)
}

func (s *Server) handleLogout(w http.ResponseWriter, req *http.Request) {
	if err := s.auth.Logout(w, req); err != nil {
		s.logger.Error("unable to end session", "error", err)
	}
	code := http.StatusFound
	if req.Method == http.MethodPost {
		code = http.StatusSeeOther
	}
	http.Redirect(w, req, IndexPath, code)
}

func (s *Server) handleMe(w http.ResponseWriter, req *http.Request) {
	ui, ok := auth.IdentityFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ReasonUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, ui)
}

func (s *Server) handleRefreshMe(w http.ResponseWriter, req *http.Request) {
	sid, ok := auth.SessionIDFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ReasonUnauthenticated)
		return
	}
	ui, err := s.auth.RefreshIdentity(req.Context(), sid)
	switch {
	case errors.Is(err, oidc.ErrReauthenticationRequired):
		writeError(w, http.StatusUnauthorized, auth.ReasonUnauthenticated)
		return
	case err != nil:
		s.logger.Warn("unable to refresh identity", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to refresh profile")
		return
	}
	writeJSON(w, http.StatusOK, ui)
}

// proxy returns a handler which relays a Roblox API response for the
// signed in user.
func (s *Server) proxy(api roblox.API, fetch func(context.Context, string) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ui, ok := auth.IdentityFromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, auth.ReasonUnauthenticated)
			return
		}
		body, err := fetch(req.Context(), ui.Subject)
		if err != nil {
			s.logger.Error("roblox api request failed", "api", api, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch %s", api))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
