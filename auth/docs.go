// SPDX-License-Identifier: MPL-2.0

/*
auth is a package which runs "Sign in with Roblox" against the browser's
session: it starts logins, completes them on callback, keeps access tokens
fresh and guards routes which need a signed in user.

The session is only ever authenticated as a whole. Tokens and identity are
written together at the end of a successful callback and cleared together
when the provider rejects a refresh, so no handler can observe one without
the other. Handlers behind a Guard receive the UserIdentity only; a handler
which needs to call an upstream API with the user's token asks for one with
Service.FreshAccessToken.
*/
package auth
