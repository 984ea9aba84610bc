package validation

import (
	"fmt"
	"strings"

	"salesforce-router/internal/common/errors"
)

// FluentValidator accumulates checks that are easier to express in code than
// in struct tags, such as environment-derived settings.
type FluentValidator struct {
	errors []FieldError
}

// Validator is the name most callers use.
type Validator = FluentValidator

// NewValidator creates an empty fluent validator
func NewValidator() *Validator {
	return &FluentValidator{}
}

// RequireString validates that a string is not empty (trimmed)
func (fv *FluentValidator) RequireString(value, name string) *FluentValidator {
	if strings.TrimSpace(value) == "" {
		fv.addError(name, "required", value, fmt.Sprintf("%s is required", name))
	}
	return fv
}

// RequirePositive validates that an integer is positive
func (fv *FluentValidator) RequirePositive(value int64, name string) *FluentValidator {
	if value < 1 {
		fv.addError(name, "min", fmt.Sprintf("%d", value), fmt.Sprintf("%s must be positive", name))
	}
	return fv
}

// RequireRange validates min <= value <= max
func (fv *FluentValidator) RequireRange(value, min, max int, name string) *FluentValidator {
	if value < min || value > max {
		fv.addError(name, "range", fmt.Sprintf("%d", value),
			fmt.Sprintf("%s must be between %d and %d", name, min, max))
	}
	return fv
}

// RequireOneOf validates that value is one of allowed
func (fv *FluentValidator) RequireOneOf(value string, allowed []string, name string) *FluentValidator {
	for _, a := range allowed {
		if value == a {
			return fv
		}
	}
	fv.addError(name, "oneof", value,
		fmt.Sprintf("%s must be one of: %s", name, strings.Join(allowed, ", ")))
	return fv
}

// Validate runs fn and records its error, if any
func (fv *FluentValidator) Validate(fn func() error) *FluentValidator {
	if err := fn(); err != nil {
		fv.addError("custom", "custom", "", err.Error())
	}
	return fv
}

// ValidateIf runs fn only when condition holds
func (fv *FluentValidator) ValidateIf(condition bool, fn func() error) *FluentValidator {
	if condition {
		return fv.Validate(fn)
	}
	return fv
}

// HasErrors reports whether any check failed
func (fv *FluentValidator) HasErrors() bool {
	return len(fv.errors) > 0
}

// Error returns the combined validation error or nil
func (fv *FluentValidator) Error() error {
	if !fv.HasErrors() {
		return nil
	}
	if len(fv.errors) == 1 {
		return errors.ValidationError(fv.errors[0].Message)
	}

	messages := make([]string, len(fv.errors))
	for i, e := range fv.errors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

// Result returns structured validation results
func (fv *FluentValidator) Result() *ValidationResult {
	return &ValidationResult{Valid: !fv.HasErrors(), Errors: fv.errors}
}

func (fv *FluentValidator) addError(field, tag, value, message string) {
	fv.errors = append(fv.errors, FieldError{Field: field, Tag: tag, Value: value, Message: message})
}
