// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrExpiredToken     = errors.New("token is expired")

	// ErrMissingParameter is returned when a callback doesn't carry both a
	// code and a state.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrStateMismatch is returned when a callback's state doesn't match a
	// pending, unexpired transaction.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrNonceMismatch is returned when an id_token's nonce doesn't match the
	// transaction's nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrTokenExchangeFailed is returned when the token endpoint rejects an
	// authorization code. See TokenExchangeError for the provider's response.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrReauthenticationRequired is returned when the tokens can no longer
	// be used or refreshed and the user must log in again.
	ErrReauthenticationRequired = errors.New("reauthentication required")

	// ErrMalformedIdentity is returned when the userinfo response can't be
	// turned into a valid UserIdentity.
	ErrMalformedIdentity = errors.New("malformed identity")

	// ErrProviderUnavailable is returned for transport failures, timeouts and
	// provider server errors.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// TokenExchangeError carries the token endpoint's response for diagnostics.
// It's only meant for server side logs.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrTokenExchangeFailed, e.StatusCode, e.Body)
}

// Unwrap allows errors.Is(err, ErrTokenExchangeFailed).
func (e *TokenExchangeError) Unwrap() error { return ErrTokenExchangeFailed }
