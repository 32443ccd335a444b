// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAvatarResolver struct {
	url   string
	err   error
	calls atomic.Int32
}

func (r *testAvatarResolver) AvatarURL(_ context.Context, subject string) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return r.url + "?userId=" + subject, nil
}

func TestNormalizeIdentity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		claims    string
		want      *UserIdentity
		wantIsErr error
	}{
		{
			name:   "builderY",
			claims: `{"sub":"123456","preferred_username":"builderY","name":"Builder Y"}`,
			want:   &UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y"},
		},
		{
			name:   "nickname-fallback",
			claims: `{"sub":"1","nickname":"nick","display_name":"Display"}`,
			want:   &UserIdentity{Subject: "1", Username: "nick", DisplayName: "Display"},
		},
		{
			name:   "name-only",
			claims: `{"sub":"1","name":"Only Name"}`,
			want:   &UserIdentity{Subject: "1", Username: "Only Name", DisplayName: "Only Name"},
		},
		{
			name:   "display-falls-back-to-username",
			claims: `{"sub":"1","preferred_username":"user"}`,
			want:   &UserIdentity{Subject: "1", Username: "user", DisplayName: "user"},
		},
		{
			name:   "empty-names",
			claims: `{"sub":"1","preferred_username":"  ","name":""}`,
			want:   &UserIdentity{Subject: "1"},
		},
		{
			name:   "nfc-normalized",
			claims: `{"sub":"1","preferred_username":"Cafe\u0301"}`,
			want:   &UserIdentity{Subject: "1", Username: "Caf\u00e9", DisplayName: "Caf\u00e9"},
		},
		{
			name:   "numeric-sub",
			claims: `{"sub":98765,"preferred_username":"n"}`,
			want:   &UserIdentity{Subject: "98765", Username: "n", DisplayName: "n"},
		},
		{
			name:   "composite-sub",
			claims: `{"sub":"users/12345","preferred_username":"c"}`,
			want:   &UserIdentity{Subject: "12345", Username: "c", DisplayName: "c"},
		},
		{
			name:   "picture",
			claims: `{"sub":"1","picture":"https://tr.rbxcdn.com/avatar.png"}`,
			want:   &UserIdentity{Subject: "1", AvatarURL: "https://tr.rbxcdn.com/avatar.png"},
		},
		{
			name:   "bad-picture-ignored",
			claims: `{"sub":"1","picture":"javascript:alert(1)"}`,
			want:   &UserIdentity{Subject: "1"},
		},
		{
			name:      "composite-sub-not-numeric",
			claims:    `{"sub":"users/abc"}`,
			wantIsErr: ErrMalformedIdentity,
		},
		{
			name:      "missing-sub",
			claims:    `{"preferred_username":"x"}`,
			wantIsErr: ErrMalformedIdentity,
		},
		{
			name:      "empty-sub",
			claims:    `{"sub":""}`,
			wantIsErr: ErrMalformedIdentity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			claims := testDecodeClaims(t, tt.claims)
			got, err := NormalizeIdentity(claims)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)

			again, err := NormalizeIdentity(testDecodeClaims(t, tt.claims))
			require.NoError(err)
			assert.Equal(got, again)
		})
	}
}

func TestParseSubject(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sub     string
		want    string
		wantErr bool
	}{
		{sub: "123456", want: "123456"},
		{sub: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients", want: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients"},
		{sub: "users/12345", want: "12345"},
		{sub: "a/b/007", want: "007"},
		{sub: "users/", wantErr: true},
		{sub: "users/12a", wantErr: true},
		{sub: "users/-1", wantErr: true},
		{sub: "users/+1", wantErr: true},
		{sub: "users/99999999999999999999999", wantErr: true},
		{sub: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParseSubject(tt.sub)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrMalformedIdentity)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestProvider_FetchIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name        string
		setup       func(tp *TestProvider)
		resolver    *testAvatarResolver
		token       func(ts *TokenSet) AccessToken
		opts        func(ts *TokenSet) []Option
		want        *UserIdentity
		wantIsErr   error
		wantResolve int32
	}{
		{
			name: "builderY",
			want: &UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y"},
		},
		{
			name:        "avatar-resolved",
			resolver:    &testAvatarResolver{url: "https://thumbnails.example.com"},
			want:        &UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y", AvatarURL: "https://thumbnails.example.com?userId=123456"},
			wantResolve: 1,
		},
		{
			name:        "avatar-failure-is-not-fatal",
			resolver:    &testAvatarResolver{err: errors.New("thumbnail outage")},
			want:        &UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y"},
			wantResolve: 1,
		},
		{
			name: "picture-claim-skips-resolver",
			setup: func(tp *TestProvider) {
				tp.SetUserInfoReply(map[string]interface{}{"preferred_username": "p", "picture": "https://example.com/p.png"})
			},
			resolver: &testAvatarResolver{url: "https://thumbnails.example.com"},
			want:     &UserIdentity{Subject: "123456", Username: "p", DisplayName: "p", AvatarURL: "https://example.com/p.png"},
		},
		{
			name:  "matching-id-token-subject",
			opts:  func(ts *TokenSet) []Option { return []Option{WithExpectedSubject(ts.Subject)} },
			want:  &UserIdentity{Subject: "123456", Username: "builderY", DisplayName: "Builder Y"},
			setup: func(*TestProvider) {},
		},
		{
			name: "mismatched-id-token-subject",
			setup: func(tp *TestProvider) {
				tp.SetUserInfoReply(map[string]interface{}{"sub": "999", "preferred_username": "other"})
			},
			opts:      func(ts *TokenSet) []Option { return []Option{WithExpectedSubject(ts.Subject)} },
			wantIsErr: ErrMalformedIdentity,
		},
		{
			name: "malformed-composite-subject",
			setup: func(tp *TestProvider) {
				tp.SetUserInfoReply(map[string]interface{}{"sub": "users/not-a-number"})
			},
			wantIsErr: ErrMalformedIdentity,
		},
		{
			name:      "unknown-token",
			token:     func(*TokenSet) AccessToken { return "not-issued" },
			wantIsErr: ErrReauthenticationRequired,
		},
		{
			name:      "empty-token",
			token:     func(*TokenSet) AccessToken { return "" },
			wantIsErr: ErrReauthenticationRequired,
		},
		{
			name:      "forbidden",
			setup:     func(tp *TestProvider) { tp.SetUserInfoStatus(http.StatusForbidden) },
			wantIsErr: ErrReauthenticationRequired,
		},
		{
			name:      "rate-limited",
			setup:     func(tp *TestProvider) { tp.SetUserInfoStatus(http.StatusTooManyRequests) },
			wantIsErr: ErrProviderUnavailable,
		},
		{
			name:      "server-error",
			setup:     func(tp *TestProvider) { tp.SetUserInfoStatus(http.StatusInternalServerError) },
			wantIsErr: ErrProviderUnavailable,
		},
		{
			name:      "not-found",
			setup:     func(tp *TestProvider) { tp.SetUserInfoStatus(http.StatusNotFound) },
			wantIsErr: ErrMalformedIdentity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			var opts []Option
			if tt.resolver != nil {
				opts = append(opts, WithAvatarResolver(tt.resolver))
			}
			p := testNewProvider(t, testClientID, testClientSecret, testRedirect, tp, opts...)
			ts := testExchange(t, tp, p)
			if tt.setup != nil {
				tt.setup(tp)
			}
			token := ts.AccessToken
			if tt.token != nil {
				token = tt.token(ts)
			}
			var fetchOpts []Option
			if tt.opts != nil {
				fetchOpts = tt.opts(ts)
			}

			got, err := p.FetchIdentity(ctx, token, fetchOpts...)
			if tt.resolver != nil {
				assert.Equal(tt.wantResolve, tt.resolver.calls.Load())
			}
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
	t.Run("no-userinfo-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.DisableUserInfo()
		p := testNewProvider(t, testClientID, testClientSecret, testRedirect, tp)
		_, err := p.FetchIdentity(ctx, "token")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func testDecodeClaims(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var claims map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&claims))
	return claims
}
