// Package http provides an actuate.Actuator that fires by POSTing to an HTTP
// endpoint with a bearer token.
//
// The request has an empty body; any 2xx response counts as success.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voicegate/pkg/provider/actuate"
)

// DefaultPath is appended to the base URL when no path is configured.
const DefaultPath = "/trigger"

var _ actuate.Actuator = (*Actuator)(nil)

// Actuator POSTs to a trigger endpoint. It is safe for concurrent use.
type Actuator struct {
	url        string
	token      string
	httpClient *http.Client
}

type config struct {
	path    string
	timeout time.Duration
	client  *http.Client
}

// Option is a functional option for Actuator.
type Option func(*config)

// WithPath overrides DefaultPath.
func WithPath(p string) Option {
	return func(c *config) {
		if p != "" {
			c.path = p
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Default: 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. The timeout option is
// ignored when a client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.client = hc }
}

// New returns an Actuator for baseURL. token is sent as
// "Authorization: Bearer <token>" and may be empty to omit the header.
func New(baseURL, token string, opts ...Option) (*Actuator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("http actuator: base URL must not be empty")
	}
	cfg := &config{path: DefaultPath, timeout: 5 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	hc := cfg.client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	return &Actuator{
		url:        strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(cfg.path, "/"),
		token:      token,
		httpClient: hc,
	}, nil
}

// URL returns the full trigger URL.
func (a *Actuator) URL() string { return a.url }

// Trigger implements actuate.Actuator.
func (a *Actuator) Trigger(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("http actuator: build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http actuator: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http actuator: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
