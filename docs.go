// SPDX-License-Identifier: MPL-2.0

// rbxauth is a "Sign in with Roblox" backend: an OAuth 2.0 / OIDC
// authorization code login with PKCE, state and nonce bound to a server-side
// session, token refresh and same-origin proxies for the public Roblox APIs.
//
// Packages:
//
//	oidc      the relying party: transactions, exchange, refresh, identity
//	session   sessions and their memory, SQL and Redis stores
//	auth      the login service and the route guard
//	roblox    the public Roblox API client
//	server    the HTTP routes
//	config    environment configuration
//	metrics   prometheus collectors
package rbxauth
