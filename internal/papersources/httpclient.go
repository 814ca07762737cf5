package papersources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxAttempts is the total number of attempts made when the server
	// answers 429 Too Many Requests.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff between attempts.
	RetryDelay time.Duration

	// MaxRetryDelay caps any single backoff, including Retry-After.
	MaxRetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key").
	APIKeyHeader string

	// Source names the upstream in rate limit errors. Defaults to the
	// request host.
	Source string
}

// HTTPClient wraps http.Client with rate limiting and bounded retries on 429.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-PaperSearch/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Timeout returns the per-call timeout.
func (c *HTTPClient) Timeout() time.Duration {
	return c.config.Timeout
}

// Do executes an HTTP request with rate limiting.
//
// A 429 response is retried up to MaxAttempts in total with exponential
// backoff, honoring Retry-After when present. When every attempt was
// answered with 429 the result is a *domain.RateLimitError. Every other
// response is returned to the caller unchanged. Transport errors are
// returned immediately.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	for attempt := 1; ; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		delay := c.retryDelay(resp, attempt)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if attempt >= c.config.MaxAttempts {
			return nil, domain.NewRateLimitError(c.sourceName(req), delay)
		}

		if err := c.waitForRetry(req.Context(), delay); err != nil {
			return nil, err
		}
		if err := c.resetRequestBody(req); err != nil {
			return nil, fmt.Errorf("cannot retry request: %w", err)
		}
	}
}

// DoOnce executes a single rate-limited attempt with no retry, for callers
// that run their own retry policy.
func (c *HTTPClient) DoOnce(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) sourceName(req *http.Request) string {
	if c.config.Source != "" {
		return c.config.Source
	}
	return req.URL.Hostname()
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}
}

// retryDelay returns the wait before the attempt following a 429: the
// Retry-After value when present, else RetryDelay * 2^(attempt-1).
func (c *HTTPClient) retryDelay(resp *http.Response, attempt int) time.Duration {
	delay := c.config.RetryDelay * time.Duration(1<<(attempt-1))

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
			if seconds > 0 {
				delay = time.Duration(seconds) * time.Second
			}
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				delay = d
			}
		}
	}

	if delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
