// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hireadev/rbxauth/oidc"
)

// Completer finishes an authentication attempt for the request's session. It
// must consume the session's pending transaction whether or not the attempt
// succeeds.
type Completer interface {
	Complete(w http.ResponseWriter, req *http.Request) (*oidc.UserIdentity, error)
}

// CompleterFunc adapts an ordinary function to a Completer.
type CompleterFunc func(w http.ResponseWriter, req *http.Request) (*oidc.UserIdentity, error)

// Complete calls f(w, req).
func (f CompleterFunc) Complete(w http.ResponseWriter, req *http.Request) (*oidc.UserIdentity, error) {
	return f(w, req)
}

// AuthCode creates an oidc authorization code callback handler which uses a
// Completer to validate the response and establish the authenticated
// session.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ctx context.Context, c Completer, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: completer is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		// the completer always runs, even for an error response, so the
		// pending transaction is discarded.
		id, err := c.Complete(w, req)

		if e := req.FormValue("error"); e != "" {
			reqError := &AuthenErrorResponse{
				Error:       e,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, err, w, req)
			return
		}
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		if id == nil {
			eFn(reqState, nil, fmt.Errorf("%s: completer returned no identity: %w", op, oidc.ErrMalformedIdentity), w, req)
			return
		}
		sFn(reqState, id, w, req)
	}, nil
}
