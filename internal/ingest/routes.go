package ingest

import (
	"net/http"

	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/middleware"

	"github.com/gorilla/mux"
)

// NewRouter wires the API routes and middleware
func NewRouter(h *Handlers, logger logging.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/events", h.HandleEvents).Methods(http.MethodPost)
	router.HandleFunc("/flush", h.HandleFlush).Methods(http.MethodPost)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	return router
}
