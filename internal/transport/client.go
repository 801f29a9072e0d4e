// Package transport issues the GET/POST/DELETE calls the gateway makes
// against scrape agents and returns raw response bodies.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 90 * time.Second

// Config controls the agent HTTP client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client performs requests against agent endpoints. No retries are made.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client with pooled connections.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		},
		userAgent: cfg.UserAgent,
	}
}

// Get fetches url and returns its body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

// Post sends body as JSON with the extra header and returns the response
// body. header may be nil.
func (c *Client) Post(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	return c.do(ctx, http.MethodPost, url, body, header)
}

// Delete issues a DELETE and discards the response body.
func (c *Client) Delete(ctx context.Context, url string) error {
	_, err := c.do(ctx, http.MethodDelete, url, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body already drained

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, url, err)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
