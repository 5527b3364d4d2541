package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the hosting API endpoint queried by the probe.
const DefaultBaseURL = "https://api.github.com"

var (
	// ErrUnauthorized indicates the stored credential was rejected.
	ErrUnauthorized = errors.New("credential rejected")
	// ErrNotFound indicates the repository or branch does not exist (or is
	// invisible to the credential, which the API reports identically).
	ErrNotFound = errors.New("repository or branch not found")
	// ErrRateLimited indicates the host is throttling requests.
	ErrRateLimited = errors.New("rate limited")
)

// Probe queries the hosting API for repository state
type Probe interface {
	// LatestCommit returns the commit SHA at the tip of the branch
	LatestCommit(ctx context.Context, owner, name, branch string) (string, error)
	// VerifyRepo checks that the repository is visible to the credential
	VerifyRepo(ctx context.Context, owner, name string) error
}

// Client implements Probe against the GitHub REST API
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a probe using the given access token
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithBaseURL creates a probe against a non-default API endpoint.
// Used by tests and self-hosted installations.
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = baseURL
	return c
}

// commitResponse holds the only field we need from the commits endpoint
type commitResponse struct {
	SHA string `json:"sha"`
}

// LatestCommit issues one authorized read for the branch tip. Every call
// re-queries the host; there is no caching and no retry.
func (c *Client) LatestCommit(ctx context.Context, owner, name, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.baseURL, owner, name, branch)

	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}

	var commit commitResponse
	if err := json.Unmarshal(body, &commit); err != nil {
		return "", fmt.Errorf("failed to parse commit response: %w", err)
	}
	if commit.SHA == "" {
		return "", fmt.Errorf("commit response missing sha")
	}

	return commit.SHA, nil
}

// VerifyRepo confirms the repository is accessible with the credential
func (c *Client) VerifyRepo(ctx context.Context, owner, name string) error {
	url := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, name)
	_, err := c.get(ctx, url)
	return err
}

// get performs an authorized GET and classifies failure statuses
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		// GitHub reports primary rate limiting as 403 with a drained quota header
		if resp.Header.Get("X-Ratelimit-Remaining") == "0" {
			return nil, fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: HTTP %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected status HTTP %d from %s", resp.StatusCode, url)
	}
}
