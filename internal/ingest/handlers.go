// Package ingest exposes the pipeline over HTTP: events in, manual flushes,
// and a health check.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"salesforce-router/internal/common/errors"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/models"

	"github.com/google/uuid"
)

// MaxBodyBytes bounds the size of an ingest request body
const MaxBodyBytes = 5 << 20

// EventSink is the part of the pipeline the API drives
type EventSink interface {
	OnEvent(ctx context.Context, event models.Event) error
	Flush(ctx context.Context) error
	Ready() bool
}

// HealthCheck reports the state of a dependency, such as the token cache
type HealthCheck func(ctx context.Context) error

// Handlers serves the ingest API
type Handlers struct {
	sink   EventSink
	checks map[string]HealthCheck
	logger logging.Logger
	now    func() time.Time
}

// New creates the API handlers. checks are run by the health endpoint.
func New(sink EventSink, checks map[string]HealthCheck, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		sink:   sink,
		checks: checks,
		logger: logger.WithFields(logging.String("component", "ingest")),
		now:    time.Now,
	}
}

type eventsResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// HandleEvents accepts one event object or an array of events. Events are
// handed to the pipeline in order; the first failure stops the request.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	events, err := decodeEvents(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Warn("Rejected malformed events payload", logging.Err(err))
		writeJSON(w, http.StatusBadRequest, eventsResponse{Error: err.Error()})
		return
	}

	for i := range events {
		if events[i].Event == "" {
			writeJSON(w, http.StatusBadRequest, eventsResponse{
				Accepted: i,
				Error:    "event name is required",
			})
			return
		}
		if events[i].UUID == "" {
			events[i].UUID = uuid.NewString()
		}

		if err := h.sink.OnEvent(r.Context(), events[i]); err != nil {
			writeJSON(w, statusFor(err), eventsResponse{Accepted: i, Error: err.Error()})
			return
		}
	}

	log.Debug("Events accepted", logging.Int("count", len(events)))
	writeJSON(w, http.StatusAccepted, eventsResponse{Accepted: len(events)})
}

// HandleFlush delivers everything currently buffered
func (h *Handlers) HandleFlush(w http.ResponseWriter, r *http.Request) {
	if err := h.sink.Flush(r.Context()); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"status": "failed", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthCheck reports readiness of the pipeline and its dependencies
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Ready:     h.sink.Ready(),
		Timestamp: h.now().UTC(),
	}
	status := http.StatusOK

	if !resp.Ready {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func decodeEvents(body io.Reader) ([]models.Event, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.ValidationError("request body is empty")
	}

	if raw[0] == '[' {
		var events []models.Event
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, errors.ValidationError("invalid events array").WithCause(err)
		}
		return events, nil
	}

	var event models.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.ValidationError("invalid event").WithCause(err)
	}
	return []models.Event{event}, nil
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeNotReady:
		return http.StatusServiceUnavailable
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
