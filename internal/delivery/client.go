// Package delivery sends one routed event to its sink.
package delivery

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"salesforce-router/internal/common/errors"
	commonhttp "salesforce-router/internal/common/http"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/common/ratelimit"
	"salesforce-router/internal/metrics"
	"salesforce-router/internal/models"
	"salesforce-router/internal/routing"
)

const maxBodySnippet = 512

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for sink requests
func WithHTTPClient(client commonhttp.Doer) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the client's logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the recorder notified of every request
func WithMetrics(recorder metrics.Recorder) Option {
	return func(c *Client) { c.metrics = recorder }
}

// WithRateLimiter paces sink requests
func WithRateLimiter(limiter ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// Client performs authenticated sink requests. It never retries.
type Client struct {
	host       string
	httpClient commonhttp.Doer
	limiter    ratelimit.Limiter
	logger     logging.Logger
	metrics    metrics.Recorder
}

// NewClient creates a delivery client for sinks under host
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:    host,
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	c.logger = c.logger.WithFields(logging.String("component", "delivery"))
	if c.httpClient == nil {
		c.httpClient = commonhttp.NewHTTPClientWithTimeout(30 * time.Second)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.Unlimited
	}
	return c
}

// URL returns the request URL for sink
func (c *Client) URL(sink routing.Sink) string {
	return c.host + "/" + sink.Path
}

// Deliver sends the sink's payload for event with the bearer token. Any
// non-2xx answer is returned as a delivery error carrying the status and the
// start of the response body.
func (c *Client) Deliver(ctx context.Context, sink routing.Sink, event models.Event, token string) error {
	body, err := models.EncodeProperties(sink.Payload(event.Properties))
	if err != nil {
		return errors.InternalError("failed to encode event properties", err).
			WithContext("event", event.Event)
	}

	url := c.URL(sink)
	c.logger.Debug("Delivering event",
		logging.String("event", event.Event),
		logging.String("method", sink.Method),
		logging.String("url", url),
		logging.Int("bytes", len(body)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	status, err := c.send(ctx, sink.Method, url, body, token)
	c.metrics.RecordRequest(ctx, event.Event, status, err)

	if err != nil {
		if appErr, ok := errors.As(err); ok {
			appErr.WithContext("event", event.Event).WithContext("path", sink.Path)
		}
		return err
	}
	return nil
}

// send performs the request once. status is 0 when no response arrived.
func (c *Client) send(ctx context.Context, method, url string, body []byte, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, errors.ConfigError("invalid sink request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.ConnectionError("sink request failed", err)
	}
	defer commonhttp.Drain(resp.Body)

	if !commonhttp.IsSuccess(resp.StatusCode) {
		snippet := commonhttp.ReadSnippet(resp.Body, maxBodySnippet)
		return resp.StatusCode, errors.DeliveryError("not a 2xx response from event sink", resp.StatusCode, snippet)
	}
	return resp.StatusCode, nil
}
