package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_SerializedSize(t *testing.T) {
	t.Run("name only", func(t *testing.T) {
		size, err := Event{Event: "test"}.SerializedSize()
		require.NoError(t, err)
		assert.Equal(t, 16, size) // {"event":"test"}
	})

	t.Run("html characters are not escaped", func(t *testing.T) {
		e := Event{Event: "a<b>&"}
		data, err := e.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"event":"a<b>&"}`, string(data))
	})

	t.Run("size matches encoding", func(t *testing.T) {
		e := Event{
			Event:      "$pageview",
			DistinctID: "user-1",
			Properties: map[string]interface{}{"url": "https://example.com"},
		}
		data, err := e.Encode()
		require.NoError(t, err)
		size, err := e.SerializedSize()
		require.NoError(t, err)
		assert.Equal(t, len(data), size)
	})
}

func TestEvent_JSONRoundTripFields(t *testing.T) {
	raw := `{"event":"signup","distinct_id":"d1","uuid":"u1","team_id":2,"properties":{"plan":"pro"}}`

	var e Event
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "signup", e.Event)
	assert.Equal(t, "d1", e.DistinctID)
	assert.Equal(t, "u1", e.UUID)
	assert.Equal(t, 2, e.TeamID)
	assert.True(t, e.HasProperties())
	assert.Equal(t, "pro", e.Properties["plan"])
}

func TestEvent_HasProperties(t *testing.T) {
	assert.False(t, Event{Event: "x"}.HasProperties())
	assert.True(t, Event{Event: "x", Properties: map[string]interface{}{}}.HasProperties())

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(`{"event":"x","properties":null}`), &decoded))
	assert.False(t, decoded.HasProperties())
	require.NoError(t, json.Unmarshal([]byte(`{"event":"x","properties":{}}`), &decoded))
	assert.True(t, decoded.HasProperties())
	assert.True(t, Event{Event: "x", Properties: map[string]interface{}{"a": 1}}.HasProperties())
}

func TestEncodeProperties(t *testing.T) {
	data, err := EncodeProperties(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	data, err = EncodeProperties(map[string]interface{}{"my": "properties"})
	require.NoError(t, err)
	assert.Equal(t, `{"my":"properties"}`, string(data))
}
