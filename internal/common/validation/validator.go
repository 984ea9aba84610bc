// Package validation wraps go-playground/validator with the tags and message
// formatting used across the router, plus a small fluent API for checks that
// do not map onto struct tags.
package validation

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"salesforce-router/internal/common/errors"

	"github.com/go-playground/validator/v10"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// ValidationResult contains validation results with structured errors
type ValidationResult struct {
	Valid  bool
	Errors []FieldError
}

// FieldError represents a single validation failure with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewCentralizedValidator creates a new centralized validator instance
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerRouterValidators(v)

	// Report json names so messages match the configuration keys users write
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	fieldErrors := cv.extractValidationErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message).WithContext("field", fieldErrors[0].Field)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []FieldError {
	var out []FieldError

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "sink_host":
		return fmt.Sprintf("field '%s' must be an http or https URL", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "http_method":
		return fmt.Sprintf("field '%s' must be a valid HTTP method", err.Field())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// IsHTTPURL reports whether s parses as an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

func registerRouterValidators(v *validator.Validate) {
	v.RegisterValidation("sink_host", func(fl validator.FieldLevel) bool {
		return IsHTTPURL(fl.Field().String())
	})

	v.RegisterValidation("http_method", func(fl validator.FieldLevel) bool {
		return httpMethods[strings.ToUpper(fl.Field().String())]
	})

	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() == reflect.Int64 {
			return time.Duration(fl.Field().Int()) >= 0
		}
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}
