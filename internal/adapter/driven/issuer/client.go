// Package issuer implements the TokenIssuer port against the remote
// token-issuing HTTP endpoint.
package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenIssuer = (*Client)(nil)

const (
	defaultMaxAttempts    = 5
	defaultBackoff        = 500 * time.Millisecond
	defaultAttemptTimeout = 10 * time.Second
)

// Client exchanges one guest credential pair for a token via an HTTP GET on
// a template URL. Each attempt is bounded by its own timeout so one stuck
// call cannot stall a whole batch; a fixed number of attempts with a fixed
// backoff between them bounds the per-credential work.
type Client struct {
	urlTemplate    string
	httpClient     *http.Client
	maxAttempts    int
	backoff        time.Duration
	attemptTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackoff overrides the delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// NewClient creates a Client for the given URL template. The template must
// contain "{uid}" and "{secret}" (or the legacy "{password}") placeholders,
// which are substituted with the query-escaped credential fields.
func NewClient(urlTemplate string, opts ...Option) *Client {
	c := &Client{
		urlTemplate:    urlTemplate,
		httpClient:     &http.Client{},
		maxAttempts:    defaultMaxAttempts,
		backoff:        defaultBackoff,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenResponse is the expected success body of the issuing endpoint.
type tokenResponse struct {
	Token string `json:"token"`
}

// FetchToken exchanges the account for a token, retrying failed attempts up
// to the configured budget. After exhaustion it logs the uid at Warn (the
// secret is never logged) and returns the last attempt's error.
func (c *Client) FetchToken(ctx context.Context, account model.GuestAccount) (model.TokenResult, error) {
	endpoint := c.endpoint(account)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return model.TokenResult{}, ctx.Err()
			}
		}

		token, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return model.TokenResult{UID: account.UID, Token: token}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return model.TokenResult{}, ctx.Err()
		}
		slog.Debug("token fetch attempt failed", "uid", account.UID, "attempt", attempt, "error", err)
	}

	slog.Warn("token fetch exhausted retries", "uid", account.UID, "attempts", c.maxAttempts, "error", lastErr)
	return model.TokenResult{}, fmt.Errorf("fetching token for uid %s: %w", account.UID, lastErr)
}

// fetchOnce issues a single bounded attempt.
func (c *Client) fetchOnce(ctx context.Context, endpoint string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("response carries no token")
	}
	return body.Token, nil
}

// endpoint substitutes the credential fields into the URL template.
func (c *Client) endpoint(account model.GuestAccount) string {
	r := strings.NewReplacer(
		"{uid}", url.QueryEscape(account.UID),
		"{secret}", url.QueryEscape(account.Secret),
		"{password}", url.QueryEscape(account.Secret),
	)
	return r.Replace(c.urlTemplate)
}
