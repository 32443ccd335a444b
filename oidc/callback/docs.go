// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides the http.HandlerFunc which handles the
provider's response to an authorization code flow attempt (with PKCE) and
turns it into either a successful login or a failed one.
*/
package callback
