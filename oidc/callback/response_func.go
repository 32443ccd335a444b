// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"
	"net/url"

	"github.com/hireadev/rbxauth/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The function state parameter will contain the state that was returned as
// part of a successful oidc authentication response. The oidc.UserIdentity is
// the identity of the user who just signed in. The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON,
// etc) it wishes to the client that originated the oidc flow. It must never
// write the session's tokens.
type SuccessResponseFunc func(state string, id *oidc.UserIdentity, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the state returned as part of the oidc authentication
// response.  It also gets parameters for the oidc authentication error response
// and/or the callback error raised while processing the request.  The function
// should use the http.ResponseWriter to send back whatever content (headers,
// html, JSON, etc) it wishes to the client that originated the oidc flow.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

// DefaultErrorCode is the error query parameter value used by RedirectOnError.
const DefaultErrorCode = "oauth_failed"

// RedirectOnSuccess returns a SuccessResponseFunc which sends the user agent
// to target.
func RedirectOnSuccess(target string) SuccessResponseFunc {
	return func(_ string, _ *oidc.UserIdentity, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, target, http.StatusFound)
	}
}

// RedirectOnError returns an ErrorResponseFunc which sends the user agent to
// target with an "error" query parameter of DefaultErrorCode. The details of
// the failure are not disclosed to the user agent.
func RedirectOnError(target string) ErrorResponseFunc {
	return func(_ string, _ *AuthenErrorResponse, _ error, w http.ResponseWriter, req *http.Request) {
		u, err := url.Parse(target)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		q := u.Query()
		q.Set("error", DefaultErrorCode)
		u.RawQuery = q.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)
	}
}
