// Package circuitbreaker guards the token endpoint during setup using Sony's
// gobreaker.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"salesforce-router/internal/common/errors"
	"salesforce-router/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of trial requests allowed while half-open
	MaxConcurrentRequests int
}

// DefaultConfig returns the configuration used when a supplied one is invalid
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// SetupConfig guards the eager token fetch repeated by setup retries
var SetupConfig = Config{
	MaxFailures:           5,
	Timeout:               60 * time.Second,
	MaxConcurrentRequests: 1,
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed lets requests through
	StateClosed State = iota
	// StateOpen rejects requests
	StateOpen
	// StateHalfOpen lets a limited number of trial requests through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// GoBreakerAdapter wraps Sony's gobreaker
type GoBreakerAdapter struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// NewGoBreaker creates a circuit breaker. An invalid config falls back to
// DefaultConfig.
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Err(err),
			logging.String("name", name),
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	}

	return &GoBreakerAdapter{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// isSuccessful decides whether an error counts against the remote host. A
// 4xx answer means the host is up and rejected this particular request.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	appErr, ok := errors.As(err)
	if !ok {
		return false
	}
	switch appErr.Type {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return true
	}
	return appErr.StatusCode >= 400 && appErr.StatusCode < 500
}

// Execute runs fn within the circuit breaker. Rejections by an open breaker
// are returned as retryable connection errors.
func (g *GoBreakerAdapter) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", g.name), err).AsRetryable()
	}
	if stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' has too many requests", g.name), err).AsRetryable()
	}

	return err
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
