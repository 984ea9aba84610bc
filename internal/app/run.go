package app

import (
	"context"
	"runtime"
	"time"

	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/config"
	"salesforce-router/internal/oauth2"
)

// ShutdownTimeout bounds the final flush and server shutdown
const ShutdownTimeout = 30 * time.Second

// Run serves the ingest API and sets up the pipeline until ctx is done,
// then drains. A setup failure that is not retryable ends Run with that
// error.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) error {
	logging.Info("Starting salesforce router",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("port", cfg.Port),
	)

	app, err := New(ctx, cfg, opts...)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.RunServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	setupDone := make(chan error, 1)
	go func() {
		setupDone <- app.Setup(ctx)
	}()

	var runErr error
	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			waiting = false
		case err := <-setupDone:
			if err != nil && ctx.Err() == nil {
				logging.Error("Setup failed, shutting down", err)
				runErr = err
				waiting = false
			}
			setupDone = nil
		case err := <-srv.Errors():
			runErr = err
			waiting = false
		}
	}

	logging.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server forced to shutdown", logging.Err(err))
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Error("Final flush failed", err)
		if runErr == nil {
			runErr = err
		}
	}

	logging.Info("Router exited")
	return runErr
}

// CheckReport summarizes a configuration check
type CheckReport struct {
	Routing      string
	TokenFetched bool
}

// Check validates cfg without starting anything. With fetchToken it also
// exchanges the credentials once.
func Check(ctx context.Context, cfg *config.Config, fetchToken bool, opts ...Option) (*CheckReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer app.Cleanup()

	pcfg := app.PipelineConfig()
	routes, err := pcfg.Validate()
	if err != nil {
		return nil, err
	}
	report := &CheckReport{Routing: routes.Generation().String()}

	if fetchToken {
		// Bypass the shared cache so the credentials are really exercised.
		managerOpts := []oauth2.Option{oauth2.WithLogger(app.baseLogger), oauth2.WithMetrics(app.Metrics)}
		if app.httpClient != nil {
			managerOpts = append(managerOpts, oauth2.WithHTTPClient(app.httpClient))
		}
		manager := oauth2.NewManager(oauth2.Config{
			Host:         pcfg.Host,
			ClientID:     pcfg.ConsumerKey,
			ClientSecret: pcfg.ConsumerSecret,
			Username:     pcfg.Username,
			Password:     pcfg.Password,
		}, oauth2.NewMemoryTokenStorage(), managerOpts...)

		if _, err := manager.GetToken(ctx); err != nil {
			return report, err
		}
		report.TokenFetched = true
	}
	return report, nil
}
