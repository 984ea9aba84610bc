// Package app assembles the router's components from configuration and runs
// them until shutdown.
package app

import (
	"context"
	"time"

	"salesforce-router/internal/common/errors"
	commonhttp "salesforce-router/internal/common/http"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/common/ratelimit"
	"salesforce-router/internal/common/utils"
	"salesforce-router/internal/config"
	"salesforce-router/internal/locks"
	"salesforce-router/internal/metrics"
	"salesforce-router/internal/oauth2"
	"salesforce-router/internal/pipeline"
	"salesforce-router/internal/redis"

	"go.opentelemetry.io/otel/metric"
)

// Option configures an App
type Option func(*App)

// WithHTTPClient sets the client used for Salesforce requests
func WithHTTPClient(client commonhttp.Doer) Option {
	return func(app *App) { app.httpClient = client }
}

// WithMeterProvider sets the provider metrics are recorded with. The
// default is an SDK provider read through GET /metrics.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(app *App) { app.meterProvider = provider }
}

// WithSetupRetry replaces the backoff used while Setup is retryable
func WithSetupRetry(retry utils.RetryConfig) Option {
	return func(app *App) { app.setupRetry = retry }
}

// WithLogger sets the application logger
func WithLogger(logger logging.Logger) Option {
	return func(app *App) { app.Logger = logger }
}

// App holds all the application dependencies
type App struct {
	Config       *config.Config
	RedisClient  *redis.Client
	TokenStorage oauth2.TokenStorage
	RefreshLock  locks.Locker
	Metrics      metrics.Recorder
	Pipeline     *pipeline.Pipeline
	Logger       logging.Logger

	baseLogger      logging.Logger
	httpClient      commonhttp.Doer
	meterProvider   metric.MeterProvider
	metricsProvider *metrics.Provider
	setupRetry      utils.RetryConfig
}

// New creates the application. Nothing talks to Salesforce until Setup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		setupRetry: utils.RetryConfig{
			MaxAttempts:   cfg.SetupAttempts(),
			InitialDelay:  time.Second,
			MaxDelay:      time.Minute,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.Logger == nil {
		app.Logger = logging.GetGlobalLogger()
	}
	app.baseLogger = app.Logger
	app.Logger = app.Logger.WithFields(logging.String("component", "app"))

	app.initializeTokenStorage(ctx)

	if err := app.initializeMetrics(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializePipeline(); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

func (app *App) initializeMetrics() error {
	if app.meterProvider == nil {
		app.metricsProvider = metrics.NewProvider()
		app.meterProvider = app.metricsProvider.MeterProvider()
	}

	recorder, err := metrics.New(app.meterProvider)
	if err != nil {
		return errors.InternalError("failed to create metric instruments", err)
	}
	app.Metrics = recorder
	return nil
}

func (app *App) initializePipeline() error {
	rate := app.Config.SinkRate()
	limiter, err := ratelimit.NewLocalLimiter(rate)
	if err != nil {
		return err
	}
	if rate.Enabled() {
		app.Logger.Info("Sink requests are paced",
			logging.Any("requests_per_second", rate.RequestsPerSecond))
	}

	opts := []pipeline.Option{
		pipeline.WithRateLimiter(limiter),
		pipeline.WithLogger(app.baseLogger),
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithTokenStorage(app.TokenStorage),
	}
	if app.RefreshLock != nil {
		opts = append(opts, pipeline.WithRefreshLock(app.RefreshLock))
	}
	if app.httpClient != nil {
		opts = append(opts, pipeline.WithHTTPClient(app.httpClient))
	}
	app.Pipeline = pipeline.New(opts...)
	return nil
}

// PipelineConfig maps the loaded configuration onto the pipeline's
func (app *App) PipelineConfig() pipeline.Config {
	c := app.Config
	return pipeline.Config{
		Host:            c.SalesforceHost,
		Username:        c.SalesforceUsername,
		Password:        c.SalesforcePassword,
		ConsumerKey:     c.ConsumerKey,
		ConsumerSecret:  c.ConsumerSecret,
		Routing:         c.Routing(),
		BufferSizeLimit: c.BufferSizeLimit(),
		BufferTimeLimit: c.BufferTimeLimit(),
	}
}

// Setup sets up the pipeline, retrying with backoff while the failure is
// retryable. Config errors return at once.
func (app *App) Setup(ctx context.Context) error {
	retry := app.setupRetry
	retry.RetryableErrors = errors.IsRetryable
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		app.Logger.Warn("Setup failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}

	cfg := app.PipelineConfig()
	return utils.RetryWithBackoff(ctx, retry, func() error {
		return app.Pipeline.Setup(ctx, cfg)
	})
}

// Shutdown flushes and stops the pipeline
func (app *App) Shutdown(ctx context.Context) error {
	if app.Pipeline == nil {
		return nil
	}
	return app.Pipeline.Teardown(ctx)
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.metricsProvider != nil {
		if err := app.metricsProvider.Shutdown(context.Background()); err != nil {
			app.Logger.Warn("Failed to shut down meter provider", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Failed to close Redis client", logging.Err(err))
		}
	}
}
