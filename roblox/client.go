// SPDX-License-Identifier: MPL-2.0

// Package roblox is a client for the public (unauthenticated) Roblox web
// APIs used by the dashboard: friends, badges, developer game listings and
// avatar headshot thumbnails.
package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hireadev/rbxauth/metrics"
	"github.com/hireadev/rbxauth/oidc"
	sdkhttp "github.com/hireadev/rbxauth/sdk/http"
)

// API names one of the Roblox web APIs.
type API string

const (
	APIFriends    API = "friends"
	APIBadges     API = "badges"
	APIGames      API = "games"
	APIThumbnails API = "thumbnails"
)

// defaultBaseURLs are the production hosts of each API.
var defaultBaseURLs = map[API]string{
	APIFriends:    "https://friends.roblox.com",
	APIBadges:     "https://badges.roblox.com",
	APIGames:      "https://games.roblox.com",
	APIThumbnails: "https://thumbnails.roblox.com",
}

const (
	// DefaultMaxBodyBytes bounds how much of an upstream response is read.
	DefaultMaxBodyBytes = 1 << 20

	// DefaultBadgeLimit is how many of the most recent badges are listed.
	DefaultBadgeLimit = 10

	userAgent = "rbxauth/1.0"
)

var (
	// ErrInvalidUserID is returned when a user id isn't a positive integer.
	ErrInvalidUserID = errors.New("invalid roblox user id")

	// ErrUpstream is returned when a Roblox API call fails.
	ErrUpstream = errors.New("roblox api request failed")
)

// UpstreamError is returned when a Roblox API answers with a non-2xx status.
type UpstreamError struct {
	API        API
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s api returned status %d", ErrUpstream, e.API, e.StatusCode)
}

// Unwrap returns ErrUpstream.
func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Client calls the Roblox web APIs.
type Client struct {
	client       *http.Client
	baseURLs     map[API]string
	maxBodyBytes int64
	metrics      *metrics.Metrics
	logger       hclog.Logger
}

// NewClient creates a new Client. Unless WithHTTPClient is used, requests
// are bounded by a 10s timeout.
//
// Supported options: WithHTTPClient, WithBaseURL, WithMetrics, WithLogger
func NewClient(opt ...Option) (*Client, error) {
	const op = "roblox.NewClient"
	opts := getOpts(opt...)
	c := &Client{
		client:       opts.withHTTPClient,
		baseURLs:     map[API]string{},
		maxBodyBytes: DefaultMaxBodyBytes,
		metrics:      opts.withMetrics,
		logger:       opts.withLogger,
	}
	if c.client == nil {
		hc, err := sdkhttp.NewClient("", sdkhttp.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.client = hc
	}
	for api, u := range defaultBaseURLs {
		c.baseURLs[api] = u
	}
	for api, u := range opts.withBaseURLs {
		if _, err := url.Parse(u); err != nil {
			return nil, fmt.Errorf("%s: invalid %s base url: %w", op, api, oidc.ErrInvalidParameter)
		}
		c.baseURLs[api] = u
	}
	return c, nil
}

// Friends returns the user's friends list as returned by
// friends.roblox.com/v1/users/{id}/friends.
func (c *Client) Friends(ctx context.Context, userID string) (json.RawMessage, error) {
	const op = "Client.Friends"
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b, err := c.get(ctx, APIFriends, fmt.Sprintf("/v1/users/%d/friends", uid), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// Badges returns the user's most recent badges as returned by
// badges.roblox.com/v1/users/{id}/badges.
func (c *Client) Badges(ctx context.Context, userID string) (json.RawMessage, error) {
	const op = "Client.Badges"
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(DefaultBadgeLimit))
	q.Set("sortOrder", "Desc")
	b, err := c.get(ctx, APIBadges, fmt.Sprintf("/v1/users/%d/badges", uid), q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// Games returns the games the user has published as returned by
// games.roblox.com/v2/users/{id}/games.
func (c *Client) Games(ctx context.Context, userID string) (json.RawMessage, error) {
	const op = "Client.Games"
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q := url.Values{}
	q.Set("sortOrder", "Desc")
	q.Set("limit", "10")
	b, err := c.get(ctx, APIGames, fmt.Sprintf("/v2/users/%d/games", uid), q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// AvatarURL returns the URL of the user's 150x150 avatar headshot. It
// satisfies oidc.AvatarResolver; composite subjects are accepted.
func (c *Client) AvatarURL(ctx context.Context, subject string) (string, error) {
	const op = "Client.AvatarURL"
	sub, err := oidc.ParseSubject(subject)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	uid, err := parseUserID(sub)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	q := url.Values{}
	q.Set("userIds", strconv.FormatUint(uid, 10))
	q.Set("size", "150x150")
	q.Set("format", "Png")
	q.Set("isCircular", "false")
	b, err := c.get(ctx, APIThumbnails, "/v1/users/avatar-headshot", q)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var reply struct {
		Data []struct {
			TargetID uint64 `json:"targetId"`
			State    string `json:"state"`
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &reply); err != nil {
		return "", fmt.Errorf("%s: unable to decode thumbnail response: %w: %w", op, ErrUpstream, err)
	}
	for _, d := range reply.Data {
		if d.TargetID == uid && d.State == "Completed" && d.ImageURL != "" {
			return d.ImageURL, nil
		}
	}
	return "", fmt.Errorf("%s: no completed thumbnail for user %d: %w", op, uid, ErrUpstream)
}

// get requests path from the api and returns the JSON body.
func (c *Client) get(ctx context.Context, api API, path string, q url.Values) (json.RawMessage, error) {
	const op = "Client.get"
	u := c.baseURLs[api] + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(string(api), 0)
		return nil, fmt.Errorf("%s: %s api: %w: %w", op, api, ErrUpstream, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(string(api), resp.StatusCode)
	c.logger.Trace("roblox api request", "api", api, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, &UpstreamError{API: api, StatusCode: resp.StatusCode})
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read %s response: %w: %w", op, api, ErrUpstream, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%s: %s response exceeds %d bytes: %w", op, api, c.maxBodyBytes, ErrUpstream)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %s response isn't json: %w", op, api, ErrUpstream)
	}
	return json.RawMessage(body), nil
}

// parseUserID requires a positive decimal user id.
func parseUserID(userID string) (uint64, error) {
	uid, err := strconv.ParseUint(userID, 10, 64)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%q: %w", userID, ErrInvalidUserID)
	}
	return uid, nil
}
