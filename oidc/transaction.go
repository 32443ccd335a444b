// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/hireadev/rbxauth/sdk/id"
	"golang.org/x/oauth2"
)

// DefaultTransactionTTL is how long a login attempt may take before its
// transaction expires.
const DefaultTransactionTTL = 10 * time.Minute

// DefaultTransactionExpirySkew defines a default time skew when checking a
// Transaction's expiration.
const DefaultTransactionExpirySkew = 1 * time.Second

// Transaction represents one in-flight authorization code flow for a user.
// It's owned by a single session and must be consumed at most once. State and
// Nonce are never equal.
type Transaction struct {
	// State is an opaque value round-tripped through the provider to bind
	// the callback to the request that initiated it.
	State string `json:"state"`

	// Nonce is embedded in the id_token by the provider. Empty when the
	// transaction was created WithoutNonce.
	Nonce string `json:"nonce,omitempty"`

	// CodeVerifier is the PKCE verifier. Empty when the transaction was
	// created WithoutPKCE.
	CodeVerifier string `json:"code_verifier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	nowFunc func() time.Time
}

// NewTransaction creates a new Transaction with 256 bits of entropy in both its
// state and nonce, and a PKCE verifier.
//
// Supported options: WithNow, WithoutNonce, WithoutPKCE
func NewTransaction(expireIn time.Duration, opt ...Option) (*Transaction, error) {
	const op = "oidc.NewTransaction"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getTxOpts(opt...)
	state, err := id.Random(id.DefaultEntropyBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a transaction's state: %w", op, err)
	}
	tx := &Transaction{
		State:   state,
		nowFunc: opts.withNowFunc,
	}
	if !opts.withoutNonce {
		for tx.Nonce == "" || tx.Nonce == tx.State {
			if tx.Nonce, err = id.Random(id.DefaultEntropyBytes); err != nil {
				return nil, fmt.Errorf("%s: unable to generate a transaction's nonce: %w", op, err)
			}
		}
	}
	if !opts.withoutPKCE {
		tx.CodeVerifier = oauth2.GenerateVerifier()
	}
	tx.CreatedAt = tx.now()
	tx.ExpiresAt = tx.CreatedAt.Add(expireIn)
	return tx, nil
}

// CodeChallenge returns the S256 PKCE challenge derived from the verifier, or
// an empty string when PKCE isn't used.
func (t *Transaction) CodeChallenge() string {
	if t.CodeVerifier == "" {
		return ""
	}
	return oauth2.S256ChallengeFromVerifier(t.CodeVerifier)
}

// IsExpired returns true if the transaction has expired. Supports the
// WithExpirySkew and WithNow options and if none is provided it will use the
// DefaultTransactionExpirySkew.
func (t *Transaction) IsExpired(opt ...Option) bool {
	opts := getTxOpts(opt...)
	now := t.now()
	if opts.withNowFunc != nil {
		now = opts.withNowFunc()
	}
	return t.ExpiresAt.Before(now.Add(opts.withExpirySkew))
}

// now returns the current time using the optional nowFunc.
func (t *Transaction) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now() // fallback to this default
}

// txOptions is the set of available options for Transaction functions
type txOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
	withoutNonce   bool
	withoutPKCE    bool
}

// txDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func txDefaults() txOptions {
	return txOptions{
		withExpirySkew: DefaultTransactionExpirySkew,
	}
}

// getTxOpts gets the transaction defaults and applies the opt overrides
// passed in
func getTxOpts(opt ...Option) txOptions {
	opts := txDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithoutNonce creates a Transaction without a nonce, for plain OAuth2 flows.
func WithoutNonce() Option {
	return func(o interface{}) {
		if o, ok := o.(*txOptions); ok {
			o.withoutNonce = true
		}
	}
}
