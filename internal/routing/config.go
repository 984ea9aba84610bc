package routing

import (
	"bytes"
	"encoding/json"
	"strings"

	"salesforce-router/internal/common/errors"
)

const (
	errMissingMappingFields = "missing salesforce path/method for mapping entry"
	errMissingIncludeList   = "events to include required when no mapping provided"
	errMissingEventPath     = "event path required when no mapping provided"
	errBothGenerations      = "cannot provide both generations of routing config"

	defaultMethod = "POST"
)

// RawConfig holds the string-typed routing settings as they arrive from the
// environment.
type RawConfig struct {
	EventPath            string
	EventMethodType      string
	EventsToInclude      string
	PropertiesToInclude  string
	EventEndpointMapping string
}

// Sink describes where and how one event is forwarded. Sinks are built once
// by Parse and never modified afterwards.
type Sink struct {
	Path       string
	Method     string
	Properties []string

	// EnrichLocation merges geo properties into properties.record before
	// filtering. Only the include-list sink sets it.
	EnrichLocation bool
}

// Parse validates raw routing settings and builds a Config. It never
// mutates raw and returns the same verdict for the same input.
func Parse(raw RawConfig) (*Config, error) {
	entries := parseMapping(raw.EventEndpointMapping)
	includeText := strings.TrimSpace(raw.EventsToInclude)

	if entries != nil {
		if includeText != "" {
			return nil, errors.ConfigError(errBothGenerations)
		}
		mapping, err := buildSinkMapping(entries, raw.EventMethodType)
		if err != nil {
			return nil, err
		}
		return &Config{rules: mapping}, nil
	}

	if includeText == "" {
		return nil, errors.ConfigError(errMissingIncludeList)
	}
	if strings.TrimSpace(raw.EventPath) == "" {
		return nil, errors.ConfigError(errMissingEventPath)
	}

	method := strings.TrimSpace(raw.EventMethodType)
	if method == "" {
		method = defaultMethod
	}

	return &Config{rules: IncludeList{
		Events: ParseAllowList(includeText),
		Sink: Sink{
			Path:           raw.EventPath,
			Method:         strings.ToUpper(method),
			Properties:     ParseAllowList(raw.PropertiesToInclude),
			EnrichLocation: true,
		},
	}}, nil
}

// parseMapping returns nil when the mapping text is empty, malformed, not a
// JSON object, or an empty object.
func parseMapping(text string) map[string]json.RawMessage {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		return nil
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}

type mappingEntry struct {
	SalesforcePath      string          `json:"salesforcePath"`
	Method              string          `json:"method"`
	PropertiesToInclude json.RawMessage `json:"propertiesToInclude"`
}

func buildSinkMapping(entries map[string]json.RawMessage, defaultMethodType string) (SinkMapping, error) {
	mapping := make(SinkMapping, len(entries))
	for event, rawEntry := range entries {
		var entry mappingEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, mappingError(event)
		}

		method := strings.TrimSpace(entry.Method)
		if method == "" {
			method = strings.TrimSpace(defaultMethodType)
		}
		if strings.TrimSpace(entry.SalesforcePath) == "" || method == "" {
			return nil, mappingError(event)
		}

		properties, ok := decodeAllowList(entry.PropertiesToInclude)
		if !ok {
			return nil, mappingError(event)
		}

		mapping[event] = Sink{
			Path:       entry.SalesforcePath,
			Method:     strings.ToUpper(method),
			Properties: properties,
		}
	}
	return mapping, nil
}

func mappingError(event string) *errors.AppError {
	return errors.ConfigError(errMissingMappingFields).WithContext("event", event)
}

// decodeAllowList accepts a JSON array of names or a comma-separated string
func decodeAllowList(raw json.RawMessage) ([]string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, true
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for i := range list {
			list[i] = strings.TrimSpace(list[i])
		}
		return list, true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return ParseAllowList(text), true
	}
	return nil, false
}
