// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for relying party integrations with an OIDC provider such
as Roblox, using the authorization code flow with state, nonce and PKCE.

Primary types provided by the package

* Config: the immutable relying party configuration (client id/secret,
redirect URL, scopes, issuer, supported signing algorithms, request timeout).

* Transaction: one in-flight login attempt. It carries the state, nonce and
PKCE verifier that bind the provider's callback to the session that began the
attempt. A Transaction must be consumed at most once.

* TokenSet: the access_token, refresh_token and id_token issued by the
provider along with the access token's expiry. Token values redact
themselves when printed or marshaled.

* UserIdentity: the normalized identity built from userinfo claims.

* Provider: generates auth URLs, validates callbacks, exchanges codes,
verifies id_tokens, refreshes tokens and fetches identities.

Errors returned by the package are classified with the sentinels
ErrMissingParameter, ErrStateMismatch, ErrNonceMismatch,
ErrTokenExchangeFailed, ErrReauthenticationRequired, ErrMalformedIdentity and
ErrProviderUnavailable; use errors.Is.

Testing

TestProvider is a local TLS provider which supports discovery, /auth, /token,
/userinfo and /certs along with failure injection, see StartTestProvider.
*/
package oidc
