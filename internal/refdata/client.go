package refdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a thin HTTP client for the reference-data service. It
// handles Bearer token authentication and retries with exponential
// backoff on HTTP 429.
//
// An identity exists when GET {base}/api/v1/{kind}s/{id} answers 2xx and
// does not exist on 404.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
}

var _ Resolver = (*Client)(nil)

// NewClient creates a reference-data client. A zero timeout means 10s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
	}
}

// WithRateLimit bounds outgoing lookups to rps requests per second.
// A non-positive rps removes the limit.
func (c *Client) WithRateLimit(rps int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return c
}

// Exists looks up a single identity.
func (c *Client) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	path := fmt.Sprintf("/api/v1/%ss/%s", kind, url.PathEscape(id))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return false, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return false, fmt.Errorf("creating request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("executing request GET %s: %w", path, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429) on GET %s", path)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode == http.StatusUnauthorized:
			return false, fmt.Errorf("authentication failed (401): check the reference-data token for %s", c.baseURL)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return true, nil
		default:
			return false, fmt.Errorf("unexpected status %d on GET %s: %s", resp.StatusCode, path, string(body))
		}
	}

	return false, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
