package app

import (
	"net/http"

	"salesforce-router/internal/ingest"
	"salesforce-router/internal/server"
)

// Handler builds the ingest API with the health checks and, when the app
// owns its meter provider, GET /metrics.
func (app *App) Handler() http.Handler {
	checks := map[string]ingest.HealthCheck{
		"token_endpoint": app.Pipeline.TokenEndpointHealth,
	}
	if app.RedisClient != nil {
		checks["token_cache"] = app.RedisClient.Health
	}

	h := ingest.New(app.Pipeline, checks, app.baseLogger)
	router := ingest.NewRouter(h, app.baseLogger)
	if app.metricsProvider != nil {
		router.Handle("/metrics", app.metricsProvider.Handler(app.baseLogger)).Methods(http.MethodGet)
	}
	return router
}

// RunServer builds the ingest API server. The caller starts it.
func (app *App) RunServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.baseLogger)
}
