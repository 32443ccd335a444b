// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	const (
		issuer   = "https://apis.roblox.com/oauth/"
		clientID = "test-client-id"
		redirect = "https://example.com/api/oauth/callback"
	)
	tests := []struct {
		name        string
		secret      ClientSecret
		redirect    string
		opts        []Option
		wantScopes  []string
		wantTimeout time.Duration
		wantErr     bool
		wantIsErr   error
	}{
		{
			name:        "defaults",
			secret:      "secret",
			redirect:    redirect,
			wantScopes:  []string{"openid"},
			wantTimeout: DefaultRequestTimeout,
		},
		{
			name:        "openid-added",
			secret:      "secret",
			redirect:    redirect,
			opts:        []Option{WithScopes("profile"), WithRequestTimeout(time.Second)},
			wantScopes:  []string{"openid", "profile"},
			wantTimeout: time.Second,
		},
		{
			name:        "public-client",
			redirect:    redirect,
			opts:        []Option{WithScopes("openid", "profile")},
			wantScopes:  []string{"openid", "profile"},
			wantTimeout: DefaultRequestTimeout,
		},
		{
			name:      "public-client-without-pkce",
			redirect:  redirect,
			opts:      []Option{WithoutPKCE()},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "missing-redirect",
			secret:    "secret",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "relative-redirect",
			secret:    "secret",
			redirect:  "/api/oauth/callback",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "bad-alg",
			secret:    "secret",
			redirect:  redirect,
			opts:      []Option{WithSupportedSigningAlgs("HS256")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "incomplete-provider-config",
			secret:    "secret",
			redirect:  redirect,
			opts:      []Option{WithProviderConfig(&ProviderConfig{AuthURL: "https://example.com/auth"})},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(issuer, clientID, tt.secret, tt.redirect, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantScopes, got.Scopes)
			assert.Equal(tt.wantTimeout, got.Timeout())
			assert.Equal([]string{"ES256", "RS256"}, got.SigningAlgs())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	t.Run("nil", func(t *testing.T) {
		var c *Config
		err := c.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("reports-every-problem", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := &Config{Issuer: "ftp://example.com", Scopes: []string{"openid"}}
		err := c.Validate()
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
		assert.ErrorIs(err, ErrInvalidIssuer)
		assert.Contains(err.Error(), "client id is empty")
		assert.Contains(err.Error(), "redirect URL is empty")
	})
	t.Run("missing-openid", func(t *testing.T) {
		c := &Config{
			ClientID:    "id",
			RedirectURL: "https://example.com/cb",
			Issuer:      "https://example.com",
			Scopes:      []string{"profile"},
		}
		assert.ErrorIs(t, c.Validate(), ErrInvalidParameter)
	})
}

func TestConfig_HttpClient(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	tests := []struct {
		name      string
		ca        string
		wantIsErr error
	}{
		{name: "valid", ca: tp.CACert()},
		{name: "system-ca"},
		{name: "bad-ca", ca: "bad", wantIsErr: ErrInvalidCACert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c := &Config{ProviderCA: tt.ca, RequestTimeout: time.Second}
			got, err := c.HttpClient()
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(time.Second, got.Timeout)
		})
	}
}

func TestConfig_Now(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, (&Config{NowFunc: func() time.Time { return fixed }}).Now())
	assert.WithinDuration(t, time.Now(), (&Config{}).Now(), time.Second)
}
