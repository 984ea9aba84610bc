// Package pipeline wires routing, buffering, token management and delivery
// into the event flow: an accepted event is resolved to a sink, buffered,
// and delivered in order when the buffer flushes.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"salesforce-router/internal/buffer"
	"salesforce-router/internal/circuitbreaker"
	"salesforce-router/internal/common/errors"
	commonhttp "salesforce-router/internal/common/http"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/common/ratelimit"
	"salesforce-router/internal/common/validation"
	"salesforce-router/internal/delivery"
	"salesforce-router/internal/locks"
	"salesforce-router/internal/metrics"
	"salesforce-router/internal/models"
	"salesforce-router/internal/oauth2"
	"salesforce-router/internal/routing"
)

// Config is everything Setup needs to start accepting events
type Config struct {
	Host           string `json:"salesforceHost" validate:"required,sink_host"`
	Username       string `json:"username" validate:"required"`
	Password       string `json:"password" validate:"required"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`

	Routing routing.RawConfig `json:"-"`

	// Zero values fall back to the buffer defaults
	BufferSizeLimit int           `json:"bufferSizeLimit" validate:"min=0"`
	BufferTimeLimit time.Duration `json:"bufferTimeLimit" validate:"duration"`
}

// Validate checks the connection settings and parses the routing settings.
// Every failure is a config error.
func (c Config) Validate() (*routing.Config, error) {
	if err := validation.ValidateStruct(c); err != nil {
		return nil, errors.ConfigError("invalid salesforce connection config").WithCause(err)
	}
	return routing.Parse(c.Routing)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the recorder for token, request and flush metrics
func WithMetrics(recorder metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = recorder }
}

// WithTokenStorage sets where the access token is cached. The default is
// an in-memory store.
func WithTokenStorage(storage oauth2.TokenStorage) Option {
	return func(p *Pipeline) { p.storage = storage }
}

// WithRefreshLock serializes token exchanges with other instances sharing
// the token storage
func WithRefreshLock(locker locks.Locker) Option {
	return func(p *Pipeline) { p.locker = locker }
}

// WithRateLimiter paces sink requests
func WithRateLimiter(limiter ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = limiter }
}

// WithHTTPClient sets the client used for token and sink requests
func WithHTTPClient(client commonhttp.Doer) Option {
	return func(p *Pipeline) { p.httpClient = client }
}

// Pipeline accepts events once Setup has succeeded
type Pipeline struct {
	logger     logging.Logger
	metrics    metrics.Recorder
	storage    oauth2.TokenStorage
	locker     locks.Locker
	limiter    ratelimit.Limiter
	httpClient commonhttp.Doer

	// setupMu serializes Setup and Teardown; mu guards the published state
	setupMu      sync.Mutex
	setupBreaker *circuitbreaker.GoBreakerAdapter

	mu     sync.RWMutex
	routes *routing.Config
	tokens *oauth2.Manager
	sink   *delivery.Client
	buffer *buffer.Buffer
	cancel context.CancelFunc
}

// New creates a pipeline that is not yet set up
func New(opts ...Option) *Pipeline {
	p := &Pipeline{metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logging.GetGlobalLogger()
	}
	p.logger = p.logger.WithFields(logging.String("component", "pipeline"))
	if p.httpClient == nil {
		p.httpClient = commonhttp.NewHTTPClient()
	}
	p.setupBreaker = circuitbreaker.NewGoBreaker("oauth2-setup", circuitbreaker.SetupConfig, p.logger)
	return p
}

// Setup validates cfg, fetches a token to prove the credentials work and
// starts the buffer. Invalid configuration is a config error. A failed
// token fetch is a retryable authentication error. The pipeline stays not
// ready until Setup returns nil.
func (p *Pipeline) Setup(ctx context.Context, cfg Config) error {
	p.setupMu.Lock()
	defer p.setupMu.Unlock()

	if p.Ready() {
		p.logger.Warn("Setup called on a running pipeline, ignoring")
		return nil
	}

	routes, err := cfg.Validate()
	if err != nil {
		p.logger.Error("Setup failed", err)
		return err
	}

	tokens := oauth2.NewManager(oauth2.Config{
		Host:         cfg.Host,
		ClientID:     cfg.ConsumerKey,
		ClientSecret: cfg.ConsumerSecret,
		Username:     cfg.Username,
		Password:     cfg.Password,
	}, p.storage,
		oauth2.WithHTTPClient(p.httpClient),
		oauth2.WithLogger(p.logger),
		oauth2.WithMetrics(p.metrics),
		oauth2.WithRefreshLock(p.locker),
	)

	// Repeated outages open the breaker so retries stop hitting the token
	// endpoint until it cools down.
	err = p.setupBreaker.Execute(ctx, func() error {
		_, err := tokens.GetToken(ctx)
		return err
	})
	if err != nil {
		authErr := errors.AuthError("service is down, retry later", errors.StatusCode(err)).
			WithCause(err).
			AsRetryable()
		p.logger.Error("Setup failed", authErr)
		return authErr
	}

	sink := delivery.NewClient(cfg.Host,
		delivery.WithHTTPClient(p.httpClient),
		delivery.WithLogger(p.logger),
		delivery.WithMetrics(p.metrics),
		delivery.WithRateLimiter(p.limiter),
	)
	buf := buffer.New(buffer.Config{
		SizeLimit: cfg.BufferSizeLimit,
		TimeLimit: cfg.BufferTimeLimit,
		OnFlush:   p.flushBatch,
		OnError: func(err error) {
			p.logger.Error("Scheduled flush failed, batch dropped", err)
		},
		Logger: p.logger,
	})

	p.mu.Lock()
	p.routes, p.tokens, p.sink = routes, tokens, sink
	p.buffer = buf
	// The ticker outlives the setup call.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.mu.Unlock()
	buf.Start(runCtx)

	p.logger.Info("Pipeline ready",
		logging.String("host", cfg.Host),
		logging.String("routing", routes.Generation().String()),
	)
	return nil
}

// TokenEndpointHealth fails while repeated setup failures keep the token
// endpoint's breaker open
func (p *Pipeline) TokenEndpointHealth(context.Context) error {
	if p.setupBreaker.State() == circuitbreaker.StateOpen {
		return errors.ConnectionError("token endpoint circuit is open", nil)
	}
	return nil
}

// Ready reports whether Setup has completed
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buffer != nil
}

// OnEvent routes and buffers one event. Events without a sink or without
// properties are dropped. Calling OnEvent before Setup succeeded is an
// error.
func (p *Pipeline) OnEvent(ctx context.Context, event models.Event) error {
	p.mu.RLock()
	buf, routes := p.buffer, p.routes
	p.mu.RUnlock()

	if buf == nil {
		err := errors.NotReadyError(fmt.Sprintf(
			"there is no buffer, setup must have failed, cannot process event: %s", event.Event))
		p.logger.Error("Event received before setup", err)
		return err
	}

	sink, ok := routes.Resolve(event.Event)
	if !ok {
		p.logger.Debug("Event not routed, dropping", logging.String("event", event.Event))
		return nil
	}
	if !event.HasProperties() {
		p.logger.Debug("Event has no properties, dropping", logging.String("event", event.Event))
		return nil
	}

	size, err := event.SerializedSize()
	if err != nil {
		encErr := errors.InternalError("failed to encode event", err).WithContext("event", event.Event)
		p.logger.Error("Event rejected", encErr)
		return encErr
	}

	return buf.Add(ctx, buffer.BufferedEvent{Event: event, Sink: sink, Size: size})
}

// Flush delivers everything currently buffered
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.RLock()
	buf := p.buffer
	p.mu.RUnlock()

	if buf == nil {
		return errors.NotReadyError("there is no buffer, setup must have failed, cannot flush")
	}
	return buf.Flush(ctx)
}

// Teardown stops the ticker and flushes once. The pipeline accepts no
// events afterwards.
func (p *Pipeline) Teardown(ctx context.Context) error {
	p.setupMu.Lock()
	defer p.setupMu.Unlock()

	p.mu.Lock()
	buf, cancel := p.buffer, p.cancel
	p.buffer, p.cancel = nil, nil
	p.mu.Unlock()

	if buf == nil {
		return nil
	}
	defer cancel()

	if err := buf.Close(ctx); err != nil {
		p.logger.Error("Teardown flush failed", err)
		return err
	}
	p.logger.Info("Pipeline stopped")
	return nil
}

// flushBatch delivers batch in order and stops at the first failure. The
// unsent remainder is dropped.
func (p *Pipeline) flushBatch(ctx context.Context, batch []buffer.BufferedEvent) error {
	for i, item := range batch {
		if err := p.deliver(ctx, item); err != nil {
			p.logger.Error("Failed to deliver event", err,
				logging.String("event", item.Event.Event),
				logging.String("uuid", item.Event.UUID),
				logging.String("path", item.Sink.Path),
				logging.Int("status", errors.StatusCode(err)),
				logging.Int("dropped", len(batch)-i-1),
			)
			p.metrics.RecordFlush(ctx, len(batch), err)
			return err
		}
	}
	p.metrics.RecordFlush(ctx, len(batch), nil)
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, item buffer.BufferedEvent) error {
	p.mu.RLock()
	tokens, sink := p.tokens, p.sink
	p.mu.RUnlock()

	token, err := tokens.GetToken(ctx)
	if err != nil {
		return err
	}

	err = sink.Deliver(ctx, item.Sink, item.Event, token)
	if !tokenRejected(err) {
		return err
	}

	p.logger.Info("Sink rejected the access token, refreshing",
		logging.String("event", item.Event.Event),
		logging.Int("status", errors.StatusCode(err)),
	)
	if err := tokens.Invalidate(ctx); err != nil {
		return err
	}
	if token, err = tokens.GetToken(ctx); err != nil {
		return err
	}
	return sink.Deliver(ctx, item.Sink, item.Event, token)
}

func tokenRejected(err error) bool {
	if !errors.IsType(err, errors.ErrTypeDelivery) {
		return false
	}
	status := errors.StatusCode(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
