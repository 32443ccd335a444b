// SPDX-License-Identifier: MPL-2.0

/*
Package server is the HTTP front of the "Sign in with Roblox" site.

It routes the login flow to an auth.Service, guards the dashboard and the
/api endpoints with an auth.Guard, proxies the public Roblox APIs for the
signed in user and serves the static site.

Routes:

	GET  /                    dashboard when signed in, else the index page
	GET  /dashboard.html      signed in users only
	GET  /api/oauth/roblox    starts a login
	GET  /api/oauth/callback  completes a login
	GET  /api/logout          ends the session (POST too)
	GET  /api/me              the signed in user's identity
	POST /api/me/refresh      refetches the identity from the provider
	GET  /api/friends         the user's friends
	GET  /api/badges          the user's recent badges
	GET  /api/games           the user's games
	GET  /healthz             liveness
	GET  /metrics             prometheus metrics
*/
package server
