package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConnection represents transport-level failures talking to a remote host
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents invalid or contradictory configuration
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents a rejected or failed credential exchange
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeDelivery represents a non-2xx response from an event sink
	ErrTypeDelivery ErrorType = "delivery"
	// ErrTypeNotReady represents use of the pipeline before setup completed
	ErrTypeNotReady ErrorType = "not_ready"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Retryable  bool                   `json:"retryable,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause attaches an underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// AsRetryable marks the error as a condition the caller may retry later
func (e *AppError) AsRetryable() *AppError {
	e.Retryable = true
	return e
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthError creates a new authentication error. A zero status means the
// exchange never produced a response.
func AuthError(msg string, status int) *AppError {
	return &AppError{
		Type:       ErrTypeAuth,
		Message:    msg,
		StatusCode: status,
	}
}

// DeliveryError creates a new delivery error carrying the sink's status and
// a snippet of its response body.
func DeliveryError(msg string, status int, body string) *AppError {
	err := &AppError{
		Type:       ErrTypeDelivery,
		Message:    msg,
		StatusCode: status,
	}
	if body != "" {
		err.WithContext("body", body)
	}
	return err
}

// NotReadyError creates a new not-ready error
func NotReadyError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeNotReady,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// IsRetryable reports whether the error was marked retryable
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

// StatusCode returns the HTTP status carried by the error, or 0
func StatusCode(err error) int {
	appErr, ok := As(err)
	if !ok {
		return 0
	}
	return appErr.StatusCode
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
