package models

import (
	"bytes"
	"encoding/json"
)

// Event is a single analytics event as delivered by the host platform.
// Absent fields are omitted when serialized.
type Event struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	DistinctID string                 `json:"distinct_id,omitempty"`
	UUID       string                 `json:"uuid,omitempty"`
	Timestamp  string                 `json:"timestamp,omitempty"`
	TeamID     int                    `json:"team_id,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	SiteURL    string                 `json:"site_url,omitempty"`
}

// HasProperties reports whether the event carries a properties object. An
// empty object counts; a missing or null one does not.
func (e Event) HasProperties() bool {
	return e.Properties != nil
}

// Encode returns the event's JSON encoding without HTML escaping and
// without a trailing newline.
func (e Event) Encode() ([]byte, error) {
	return encodeJSON(e)
}

// SerializedSize is the byte length of Encode's output
func (e Event) SerializedSize() (int, error) {
	data, err := e.Encode()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeProperties serializes a property map the same way events are
// serialized. A nil map encodes as an empty object.
func EncodeProperties(props map[string]interface{}) ([]byte, error) {
	if props == nil {
		props = map[string]interface{}{}
	}
	return encodeJSON(props)
}
