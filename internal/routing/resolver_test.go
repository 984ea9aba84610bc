package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneration_String(t *testing.T) {
	assert.Equal(t, "include_list", GenerationIncludeList.String())
	assert.Equal(t, "sink_mapping", GenerationSinkMapping.String())
	assert.Equal(t, "unknown", Generation(0).String())
}

func TestSink_Payload(t *testing.T) {
	props := map[string]interface{}{
		"email":         "ada@example.com",
		"$country_name": "United Kingdom",
		"$city_name":    "London",
		"record":        map[string]interface{}{"id": "001"},
	}

	t.Run("mapping sink only filters", func(t *testing.T) {
		sink := Sink{Properties: []string{"email"}}
		assert.Equal(t, map[string]interface{}{"email": "ada@example.com"}, sink.Payload(props))
	})

	t.Run("include-list sink enriches record", func(t *testing.T) {
		sink := Sink{EnrichLocation: true}
		payload := sink.Payload(props)

		record, ok := payload["record"].(map[string]interface{})
		assert.True(t, ok)
		assert.Equal(t, "001", record["id"])
		assert.Equal(t, "United Kingdom", record["country"])
		assert.Equal(t, "London", record["city"])
		assert.NotContains(t, record, "postal_code")

		original := props["record"].(map[string]interface{})
		assert.NotContains(t, original, "country", "input record must not be modified")
	})

	t.Run("enrichment runs before filtering", func(t *testing.T) {
		sink := Sink{EnrichLocation: true, Properties: []string{"record"}}
		payload := sink.Payload(props)
		assert.Len(t, payload, 1)
		assert.Contains(t, payload["record"], "country")
	})
}

func TestWithLocationRecord_NoRecord(t *testing.T) {
	enriched := WithLocationRecord(map[string]interface{}{"$latitude": 51.5, "$longitude": -0.12})
	assert.Equal(t, map[string]interface{}{"latitude": 51.5, "longitude": -0.12}, enriched["record"])
}
