// Package medline fetches the MedlinePlus web pages and XML dumps an
// ingestion run depends on.
package medline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
)

const maxPageSize = 16 << 20

// Client is an HTTP client for medlineplus.gov with a request timeout and
// retries on transient failures.
type Client struct {
	http          *http.Client
	userAgent     string
	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetries sets how many times a failed request is retried and the
// initial wait between attempts.
func WithRetries(n int, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		if initial > 0 {
			c.retryInterval = initial
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client. Without options it times out after 30s and
// retries three times.
func NewClient(opts ...Option) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		http:          &http.Client{Transport: transport, Timeout: 30 * time.Second},
		userAgent:     "mp-ingester/1.0",
		maxRetries:    3,
		retryInterval: 500 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "medline")
	return c
}

// get issues a GET and returns the response of the first attempt with a
// 200 status. Network errors and 5xx responses are retried; any other
// status fails immediately. The caller closes the body.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("User-Agent", c.userAgent)

		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}

		snippet, _ := io.ReadAll(io.LimitReader(r.Body, 512))
		r.Body.Close()
		err = fmt.Errorf("HTTP %d: %s", r.StatusCode, snippet)
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0))), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying", "url", url, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", internalerr.ErrFetch, url, err)
	}
	return resp, nil
}

// fetch returns the body of url, capped at maxPageSize.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", internalerr.ErrFetch, url, err)
	}
	if len(body) > maxPageSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", internalerr.ErrFetch, url, maxPageSize)
	}
	return body, nil
}
