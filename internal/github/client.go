// Package github provides a minimal client for the GitHub user profile
// endpoint, used to resolve the login of the requesting identity.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultAPIAddress is the public GitHub API endpoint.
const DefaultAPIAddress = "https://api.github.com"

// Client fetches the authenticated user's profile. Lookups are plain
// GETs, so transient failures are retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a profile client for the given API address. An empty
// address falls back to the public GitHub API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIAddress
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// Username resolves the login of the user owning the access token.
func (c *Client) Username(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var profile struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return profile.Login, nil
}
