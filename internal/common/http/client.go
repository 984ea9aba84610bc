// Package http builds the outbound HTTP clients used for token exchange and
// event delivery.
package http

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultUserAgent is sent on every outbound request unless overridden
const DefaultUserAgent = "salesforce-router/1.0"

// Doer is the subset of *http.Client used by callers
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           DefaultUserAgent,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(userAgent string) ClientOption {
	return func(c *ClientConfig) {
		c.UserAgent = userAgent
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	if cfg.UserAgent != "" {
		transport = &userAgentTransport{base: transport, userAgent: cfg.UserAgent}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewHTTPClientWithTimeout creates a new HTTP client with the specified timeout
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return NewHTTPClient(WithTimeout(timeout))
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// IsSuccess reports whether a status code is in the 2xx class
func IsSuccess(status int) bool {
	return status/100 == 2
}

// ReadSnippet reads at most limit bytes of r and returns them as a trimmed
// string. Read errors yield whatever was read so far.
func ReadSnippet(r io.Reader, limit int64) string {
	if r == nil || limit <= 0 {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return strings.TrimSpace(string(data))
}

// Drain discards the rest of body and closes it so the connection can be reused
func Drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
