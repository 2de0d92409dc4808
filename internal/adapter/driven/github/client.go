// Package github implements the RemoteStore port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RemoteStore = (*Client)(nil)

// Client implements the driven.RemoteStore port against one GitHub
// repository's contents API.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string
}

// NewClient creates a GitHub contents client for the "owner/repo"
// repository with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	client := gh.NewClient(httpClient)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// GetFile reads the object at path within the repository. Returns (nil, nil)
// when nothing exists there.
func (c *Client) GetFile(ctx context.Context, path string) (*driven.RemoteFile, error) {
	fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s/%s:%s: %w", c.owner, c.repo, path, err)
	}

	logRateLimit(resp, path)

	if fc == nil {
		return nil, fmt.Errorf("path %s/%s:%s is a directory", c.owner, c.repo, path)
	}

	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s/%s:%s: %w", c.owner, c.repo, path, err)
	}

	return &driven.RemoteFile{
		Path:    fc.GetPath(),
		SHA:     fc.GetSHA(),
		Content: []byte(content),
	}, nil
}

// CreateFile creates a new object at path.
func (c *Client) CreateFile(ctx context.Context, path string, content []byte, message string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
	}
	_, resp, err := c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
	if err != nil {
		return fmt.Errorf("creating %s/%s:%s: %w", c.owner, c.repo, path, err)
	}

	logRateLimit(resp, path)
	return nil
}

// UpdateFile replaces the object at path, keyed by the current blob SHA of
// the existing object. GitHub rejects the update with a 409 when the SHA is
// stale, which surfaces concurrent external edits instead of clobbering them.
func (c *Client) UpdateFile(ctx context.Context, path string, content []byte, sha, message string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
		SHA:     gh.Ptr(sha),
	}
	_, resp, err := c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
	if err != nil {
		return fmt.Errorf("updating %s/%s:%s: %w", c.owner, c.repo, path, err)
	}

	logRateLimit(resp, path)
	return nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, path string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"path", path,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
