// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxUserInfoBytes caps how much of a userinfo response is read.
const maxUserInfoBytes = 1 << 20

// UserIdentity is the normalized, provider agnostic representation of the
// authenticated user. It never carries token material and is safe to return
// to browsers.
type UserIdentity struct {
	Subject     string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// AvatarResolver looks up an avatar image URL for a subject. Failures are
// never fatal to an identity fetch.
type AvatarResolver interface {
	AvatarURL(ctx context.Context, subject string) (string, error)
}

// FetchIdentity GETs the userinfo endpoint with the access token and
// normalizes the response with NormalizeIdentity. When the response has no
// picture claim, the provider's AvatarResolver is tried.
//
// Response statuses are classified as: 401 and 403 ErrReauthenticationRequired,
// 429 and 5xx ErrProviderUnavailable, anything else non-2xx
// ErrMalformedIdentity.
//
// Supported options: WithExpectedSubject
func (p *Provider) FetchIdentity(ctx context.Context, t AccessToken, opt ...Option) (*UserIdentity, error) {
	const op = "Provider.FetchIdentity"
	if t == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrReauthenticationRequired)
	}
	endpoint := p.provider.UserInfoEndpoint()
	if endpoint == "" {
		return nil, fmt.Errorf("%s: provider has no userinfo endpoint: %w", op, ErrInvalidParameter)
	}
	opts := getIdentityOpts(opt...)

	claims, err := p.userInfo(ctx, endpoint, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if opts.withExpectedSubject != "" {
		if sub, _ := claimString(claims, "sub"); sub != opts.withExpectedSubject {
			return nil, fmt.Errorf("%s: userinfo sub doesn't match id_token sub: %w", op, ErrMalformedIdentity)
		}
	}
	id, err := NormalizeIdentity(claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if id.AvatarURL == "" && p.avatars != nil {
		avatarCtx, cancel := context.WithTimeout(ctx, p.config.Timeout())
		defer cancel()
		avatar, err := p.avatars.AvatarURL(avatarCtx, id.Subject)
		switch {
		case err != nil:
			p.logger.Debug("unable to resolve avatar", "subject", id.Subject, "error", err)
		default:
			id.AvatarURL = avatar
		}
	}
	return id, nil
}

func (p *Provider) userInfo(ctx context.Context, endpoint string, t AccessToken) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(t))
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("unable to read userinfo response: %w: %w", ErrProviderUnavailable, err)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("userinfo status %d: %w", code, ErrReauthenticationRequired)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return nil, fmt.Errorf("userinfo status %d: %w", code, ErrProviderUnavailable)
	case code < 200 || code > 299:
		return nil, fmt.Errorf("userinfo status %d: %s: %w", code, body, ErrMalformedIdentity)
	}

	var claims map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil || claims == nil {
		return nil, fmt.Errorf("userinfo response isn't a JSON object: %w", ErrMalformedIdentity)
	}
	return claims, nil
}

// NormalizeIdentity maps userinfo claims onto a UserIdentity using a fixed
// precedence:
//
//	username    := preferred_username, nickname, name, ""
//	displayName := name, display_name, username
//
// The subject comes from ParseSubject. The result only depends on the
// claims.
func NormalizeIdentity(claims map[string]interface{}) (*UserIdentity, error) {
	const op = "oidc.NormalizeIdentity"
	sub, ok := claimString(claims, "sub")
	if !ok {
		return nil, fmt.Errorf("%s: sub claim is missing: %w", op, ErrMalformedIdentity)
	}
	subject, err := ParseSubject(sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id := &UserIdentity{
		Subject:  subject,
		Username: firstClaim(claims, "preferred_username", "nickname", "name"),
	}
	id.DisplayName = firstClaim(claims, "name", "display_name")
	if id.DisplayName == "" {
		id.DisplayName = id.Username
	}
	if picture := firstClaim(claims, "picture"); picture != "" {
		if u, err := url.Parse(picture); err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" {
			id.AvatarURL = picture
		}
	}
	return id, nil
}

// ParseSubject returns the subject verbatim unless it's a composite path
// like "users/12345", in which case the trailing segment is returned and must
// be purely numeric.
func ParseSubject(sub string) (string, error) {
	const op = "oidc.ParseSubject"
	if sub == "" {
		return "", fmt.Errorf("%s: subject is empty: %w", op, ErrMalformedIdentity)
	}
	i := strings.LastIndexByte(sub, '/')
	if i < 0 {
		return sub, nil
	}
	seg := sub[i+1:]
	if _, err := strconv.ParseUint(seg, 10, 64); err != nil {
		return "", fmt.Errorf("%s: composite subject %q doesn't end in a numeric id: %w", op, sub, ErrMalformedIdentity)
	}
	return seg, nil
}

// firstClaim returns the first non-empty string claim of keys, trimmed and
// NFC normalized.
func firstClaim(claims map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := claimString(claims, k)
		if !ok {
			continue
		}
		if v = norm.NFC.String(strings.TrimSpace(v)); v != "" {
			return v
		}
	}
	return ""
}

// claimString returns a string or numeric claim as a string.
func claimString(claims map[string]interface{}, key string) (string, bool) {
	switch v := claims[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// identityOptions is the set of available options for FetchIdentity
type identityOptions struct {
	withExpectedSubject string
}

func identityDefaults() identityOptions {
	return identityOptions{}
}

func getIdentityOpts(opt ...Option) identityOptions {
	opts := identityDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpectedSubject requires the userinfo "sub" to equal the verified
// id_token subject.
func WithExpectedSubject(sub string) Option {
	return func(o interface{}) {
		if o, ok := o.(*identityOptions); ok {
			o.withExpectedSubject = sub
		}
	}
}
