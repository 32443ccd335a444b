// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestProvider is a local TLS server that plays the part of an OIDC provider
// such as Roblox: discovery, /auth, /token (authorization_code and
// refresh_token grants), /userinfo and /certs. Failures can be injected and
// requests are counted per endpoint, which makes it handy for tests of the
// whole login flow.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	usedAuthCodes       map[string]bool
	expectedAuthNonce   string
	codeChallenge       string
	pkceVerifier        string
	replySubject        string
	replyUserinfo       map[string]interface{}
	userinfoStatus      int
	disableUserInfo     bool
	omitIDToken         bool
	tokenStatus         int
	tokenBody           string
	refreshFailures     int
	refreshFailStatus   int
	expiresIn           int
	refreshToken        string
	rotateRefreshTokens bool
	issued              int
	accessTokens        map[string]bool
	counts              map[string]int
	responseDelay       time.Duration

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		allowedRedirectURIs: []string{
			"https://example.com/api/oauth/callback",
		},
		replySubject: "123456",
		replyUserinfo: map[string]interface{}{
			"preferred_username": "builderY",
			"name":               "Builder Y",
		},
		expiresIn:     3600,
		usedAuthCodes: map[string]bool{},
		accessTokens:  map[string]bool{},
		counts:        map[string]int{},
		t:             t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows. An empty secret makes the client public.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token. Each code can be exchanged once.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
	delete(p.usedAuthCodes, code)
}

// SetExpectedAuthNonce configures the nonce embedded in issued id_tokens.
// /auth records the nonce of its request as well.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetPKCEVerifier configures the code_verifier /token requires when /auth
// hasn't recorded a code_challenge.
func (p *TestProvider) SetPKCEVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pkceVerifier = verifier
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplySubject configures the "sub" of issued id_tokens and, unless the
// userinfo reply has its own, of userinfo responses.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetUserInfoReply configures the claims returned by /userinfo.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetUserInfoStatus forces /userinfo to respond with status. Zero restores
// normal responses.
func (p *TestProvider) SetUserInfoStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfoStatus = status
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// OmitIDTokens forces /token to respond without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetTokenError forces every /token request to respond with status and body.
// A zero status restores normal responses.
func (p *TestProvider) SetTokenError(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenBody = body
}

// SetRefreshFailures makes the next n refresh_token grants respond with
// status.
func (p *TestProvider) SetRefreshFailures(n int, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshFailures = n
	p.refreshFailStatus = status
}

// SetExpiresIn configures the expires_in of issued access tokens. Zero omits
// it from responses.
func (p *TestProvider) SetExpiresIn(secs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = secs
}

// SetRefreshToken configures the only refresh_token the provider accepts.
func (p *TestProvider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = rt
}

// RefreshToken returns the refresh_token the provider currently accepts.
func (p *TestProvider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshToken
}

// RotateRefreshTokens configures whether a refresh_token grant issues a new
// refresh_token and revokes the old one.
func (p *TestProvider) RotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// SetResponseDelay holds token and userinfo responses for d, or until the
// client gives up. A held request is answered with 504 Gateway Timeout.
func (p *TestProvider) SetResponseDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseDelay = d
}

// Count returns how many requests an endpoint has served. Endpoints are:
// discovery, auth, token, refresh, userinfo and certs.
func (p *TestProvider) Count(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[endpoint]
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// IssueIDToken returns an id_token signed by the provider for its client.
func (p *TestProvider) IssueIDToken(nonce string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueIDToken(nonce)
}

func (p *TestProvider) issueIDToken(nonce string) string {
	now := time.Now()
	claims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}
	private := map[string]interface{}{}
	if nonce != "" {
		private["nonce"] = nonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, claims, private)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if p.hold(req) {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.counts["discovery"]++
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer           string   `json:"issuer"`
			AuthEndpoint     string   `json:"authorization_endpoint"`
			TokenEndpoint    string   `json:"token_endpoint"`
			JWKSURI          string   `json:"jwks_uri"`
			UserinfoEndpoint string   `json:"userinfo_endpoint,omitempty"`
			Algs             []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
			Algs:             []string{string(ES256)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		p.counts["auth"]++
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !slices.Contains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("redirect_uri") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		if qv.Get("code_challenge") != "" && qv.Get("code_challenge_method") != "S256" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}
		p.expectedAuthNonce = qv.Get("nonce")
		p.codeChallenge = qv.Get("code_challenge")

		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		p.counts["certs"]++
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		grant := req.FormValue("grant_type")
		if grant == "refresh_token" {
			p.counts["refresh"]++
		} else {
			p.counts["token"]++
		}
		switch {
		case p.tokenStatus != 0:
			w.WriteHeader(p.tokenStatus)
			_, _ = w.Write([]byte(p.tokenBody))
			return
		case req.FormValue("client_id") != p.clientID:
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		case p.clientSecret != "" && req.FormValue("client_secret") != p.clientSecret:
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client secret")
			return
		}
		switch grant {
		case "authorization_code":
			p.serveAuthCodeGrant(w, req)
		case "refresh_token":
			p.serveRefreshGrant(w, req)
		default:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	case "/userinfo":
		p.counts["userinfo"]++
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.userinfoStatus != 0 {
			w.WriteHeader(p.userinfoStatus)
			return
		}
		bearer, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || !p.accessTokens[bearer] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// hold counts and delays a request when a response delay is set. It reports
// whether the request was held.
func (p *TestProvider) hold(req *http.Request) bool {
	var endpoint string
	switch req.URL.Path {
	case "/token":
		endpoint = "token"
		if req.FormValue("grant_type") == "refresh_token" {
			endpoint = "refresh"
		}
	case "/userinfo":
		endpoint = "userinfo"
	default:
		return false
	}

	p.mu.Lock()
	delay := p.responseDelay
	if delay > 0 {
		p.counts[endpoint]++
	}
	p.mu.Unlock()
	if delay <= 0 {
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-req.Context().Done():
	}
	return true
}

func (p *TestProvider) serveAuthCodeGrant(w http.ResponseWriter, req *http.Request) {
	code := req.FormValue("code")
	switch {
	case !slices.Contains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case code == "" || code != p.expectedAuthCode || p.usedAuthCodes[code]:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	}
	verifier := req.FormValue("code_verifier")
	switch {
	case p.codeChallenge != "" && oauth2.S256ChallengeFromVerifier(verifier) != p.codeChallenge:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier doesn't match code_challenge")
		return
	case p.codeChallenge == "" && p.pkceVerifier != "" && verifier != p.pkceVerifier:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected code_verifier")
		return
	}
	p.usedAuthCodes[code] = true
	p.codeChallenge = ""

	p.issued++
	p.refreshToken = fmt.Sprintf("refresh-token-%d", p.issued)
	p.writeTokenReply(w, p.refreshToken, !p.omitIDToken)
}

func (p *TestProvider) serveRefreshGrant(w http.ResponseWriter, req *http.Request) {
	if p.refreshFailures > 0 {
		p.refreshFailures--
		p.writeTokenErrorResponse(w, p.refreshFailStatus, "temporarily_unavailable", "injected failure")
		return
	}
	if rt := req.FormValue("refresh_token"); rt == "" || rt != p.refreshToken {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}
	p.issued++
	var rotated string
	if p.rotateRefreshTokens {
		rotated = fmt.Sprintf("refresh-token-%d", p.issued)
		p.refreshToken = rotated
	}
	p.writeTokenReply(w, rotated, false)
}

func (p *TestProvider) writeTokenReply(w http.ResponseWriter, refreshToken string, withIDToken bool) {
	accessToken := fmt.Sprintf("access-token-%d", p.issued)
	p.accessTokens[accessToken] = true
	reply := map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"scope":        "openid profile",
	}
	if refreshToken != "" {
		reply["refresh_token"] = refreshToken
	}
	if p.expiresIn > 0 {
		reply["expires_in"] = p.expiresIn
	}
	if withIDToken {
		reply["id_token"] = p.issueIDToken(p.expectedAuthNonce)
	}
	_ = p.writeJSON(w, reply)
}
