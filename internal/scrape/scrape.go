// Package scrape defines the scrape wire contract shared by the gateway and the
// reference agent, plus the Fetcher abstraction the agent renders pages with.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mode selects how an agent renders a page. Its value is also the agent path.
type Mode string

// Supported scrape modes.
const (
	ModePlain Mode = "scrape"
	ModeJS    Mode = "scrape-js"
)

// Path returns the agent route for the mode.
func (m Mode) Path() string {
	return "/" + string(m)
}

// ErrMissingURL is returned when a payload carries no target URL.
var ErrMissingURL = errors.New("url is required")

// Payload is the body callers send to the gateway and the gateway forwards to
// an agent unchanged.
type Payload struct {
	URL    string  `json:"url"`
	WaitMs *uint32 `json:"waitMs,omitempty"`
}

// DecodePayload parses and validates a payload without altering the raw bytes.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks the payload is usable.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return ErrMissingURL
	}
	return nil
}

// Wait returns the requested settle time, zero when absent.
func (p Payload) Wait() time.Duration {
	if p.WaitMs == nil {
		return 0
	}
	return time.Duration(*p.WaitMs) * time.Millisecond
}

// ForwardedHeaders are the caller headers passed through the gateway and
// the agent to the target site.
var ForwardedHeaders = []string{"Accept-Language", "Referer"}

// ForwardHeaders copies the ForwardedHeaders present in src. It returns nil
// when none are set.
func ForwardHeaders(src http.Header) http.Header {
	var out http.Header
	for _, key := range ForwardedHeaders {
		values := src.Values(key)
		if len(values) == 0 {
			continue
		}
		if out == nil {
			out = http.Header{}
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// Request describes a single page fetch executed by an agent.
type Request struct {
	URL  string
	Wait time.Duration
	// Headers are added to the outgoing page request.
	Headers http.Header
}

// Response is what a Fetcher produced for a Request.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Result is the JSON document an agent returns for a scrape.
type Result struct {
	RequestedURL string `json:"url"`
	FinalURL     string `json:"final_url"`
	StatusCode   int    `json:"status_code"`
	ContentType  string `json:"content_type,omitempty"`
	HTML         string `json:"html"`
	Rendered     bool   `json:"rendered"`
	DurationMs   int64  `json:"duration_ms"`
}

// NewResult converts a fetch response to its wire form.
func NewResult(requested string, resp Response) Result {
	ct := ""
	if resp.Headers != nil {
		ct = resp.Headers.Get("Content-Type")
	}
	return Result{
		RequestedURL: requested,
		FinalURL:     resp.URL,
		StatusCode:   resp.StatusCode,
		ContentType:  ct,
		HTML:         string(resp.Body),
		Rendered:     resp.Rendered,
		DurationMs:   resp.Duration.Milliseconds(),
	}
}
