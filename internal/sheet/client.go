package sheet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"catalogsync/internal/metrics"
)

// Fetcher downloads the raw CSV body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type ClientConfig struct {
	UserAgent  string
	Timeout    time.Duration
	RPS        int
	MaxRetries int
	Metrics    *metrics.Metrics
}

// Client is a rate limited HTTP client that retries transient failures.
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	metrics    *metrics.Metrics
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.RPS)), 1),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		metrics:    cfg.Metrics,
	}
}

// HTTPClient exposes the underlying client so transports can be swapped in tests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch performs a GET and returns the body. Transport errors, 429 and 5xx
// responses are retried with exponential backoff.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	body, err := c.fetch(ctx, url)
	if err != nil {
		c.metrics.ObserveFetch("error", time.Since(start))
		return nil, err
	}
	c.metrics.ObserveFetch("ok", time.Since(start))
	return body, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if _, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	var lastErr *FetchError
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			c.metrics.IncFetchRetry()
			// Backoff: 1s, 2s, 4s...
			backoff := c.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &FetchError{URL: url, Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}

		body, status, err := c.do(ctx, url)
		if err != nil {
			lastErr = &FetchError{URL: url, StatusCode: status, Err: err}
			if status == 0 || status == http.StatusTooManyRequests || status >= 500 {
				if ctx.Err() != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr
		}

		if len(body) == 0 {
			return nil, &FetchError{URL: url, StatusCode: status, Err: ErrEmptyResponse}
		}
		return body, nil
	}
	return nil, &FetchError{
		URL:        url,
		StatusCode: lastErr.StatusCode,
		Err:        fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr.Err),
	}
}

func (c *Client) do(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
