// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_StartTestProvider(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	p := testNewProvider(t, testClientID, testClientSecret, testRedirect, tp)
	client, err := p.config.HttpClient()
	require.NoError(err)

	resp, err := client.Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	var discovery map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&discovery))
	assert.Equal(tp.Addr(), discovery["issuer"])
	assert.Equal(tp.Addr()+"/token", discovery["token_endpoint"])
	assert.GreaterOrEqual(tp.Count("discovery"), 2)

	pub, priv := tp.SigningKeys()
	assert.NotEmpty(pub)
	assert.NotEmpty(priv)
	sub, err := p.VerifyIDToken(context.Background(), IDToken(tp.IssueIDToken("n")), "n")
	require.NoError(err)
	assert.Equal("123456", sub)
}

// TestTestProvider_AuthCodeFlow drives the provider's /auth endpoint like a
// browser would and completes the flow with the recorded PKCE challenge and
// nonce.
func TestTestProvider_AuthCodeFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.SetExpectedAuthCode("browser-code")
	p := testNewProvider(t, testClientID, testClientSecret, testRedirect, tp)

	client, err := p.config.HttpClient()
	require.NoError(err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	tx, err := p.Begin()
	require.NoError(err)
	authURL, err := p.AuthURL(tx)
	require.NoError(err)

	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.Equal(testRedirect, loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(tx.State, loc.Query().Get("state"))
	assert.Equal("browser-code", loc.Query().Get("code"))

	ts, err := p.HandleCallback(ctx, tx, loc.Query())
	require.NoError(err)
	assert.Equal("123456", ts.Subject)

	id, err := p.FetchIdentity(ctx, ts.AccessToken, WithExpectedSubject(ts.Subject))
	require.NoError(err)
	assert.Equal(&UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y"}, id)
	assert.Equal(1, tp.Count("auth"))
	assert.Equal(1, tp.Count("token"))
	assert.Equal(1, tp.Count("userinfo"))
}

func TestTestProvider_AuthErrors(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	p := testNewProvider(t, testClientID, testClientSecret, testRedirect, tp)
	client, err := p.config.HttpClient()
	require.NoError(t, err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	tx, err := p.Begin()
	require.NoError(t, err)
	authURL, err := p.AuthURL(tx)
	require.NoError(t, err)

	// no expected code configured: the user "denied" consent
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))

	_, err = p.HandleCallback(context.Background(), tx, loc.Query())
	assert.ErrorIs(t, err, ErrMissingParameter)
}
