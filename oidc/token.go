// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew is how early a TokenSet is treated as expired.
const DefaultTokenExpirySkew = 30 * time.Second

// DefaultTokenLifetime is used when the provider doesn't report expires_in.
const DefaultTokenLifetime = 900 * time.Second

// AccessToken is an oauth access_token.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IDToken is an oidc id_token.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// TokenSet is the token material a session holds after a successful login.
// It's mutated in place on refresh. The token fields redact themselves when
// printed or marshaled, so stores must copy the raw values explicitly.
type TokenSet struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IDToken      IDToken
	ExpiresAt    time.Time
	Scope        []string
	TokenType    string

	// Subject is the verified id_token "sub" claim, if an id_token was
	// issued.
	Subject string
}

// newTokenSet converts an oauth2 token. A zero expiry means the provider
// omitted expires_in and DefaultTokenLifetime is assumed.
func newTokenSet(tk *oauth2.Token, now time.Time) *TokenSet {
	ts := &TokenSet{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
		TokenType:    tk.Type(),
	}
	switch secs := expiresIn(tk); {
	case secs > 0:
		ts.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
	case !tk.Expiry.IsZero():
		ts.ExpiresAt = tk.Expiry
	default:
		ts.ExpiresAt = now.Add(DefaultTokenLifetime)
	}
	if raw, ok := tk.Extra("id_token").(string); ok {
		ts.IDToken = IDToken(raw)
	}
	if scope, ok := tk.Extra("scope").(string); ok {
		ts.Scope = strings.Fields(scope)
	}
	return ts
}

// expiresIn reads the raw expires_in of a token response, which some
// providers send as a string.
func expiresIn(tk *oauth2.Token) int64 {
	switch v := tk.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// IsFresh returns true when the access token is usable without a refresh,
// i.e. now < ExpiresAt - skew. Supports the WithExpirySkew and WithNow
// options and if none is provided it will use the DefaultTokenExpirySkew.
func (t *TokenSet) IsFresh(opt ...Option) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	opts := getTokenOpts(opt...)
	now := time.Now()
	if opts.withNowFunc != nil {
		now = opts.withNowFunc()
	}
	return now.Before(t.ExpiresAt.Add(-opts.withExpirySkew))
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
