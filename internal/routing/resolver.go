package routing

// Generation identifies which routing configuration shape is active
type Generation int

const (
	// GenerationIncludeList routes a flat list of events to one global sink
	GenerationIncludeList Generation = iota + 1
	// GenerationSinkMapping routes each mapped event to its own sink
	GenerationSinkMapping
)

func (g Generation) String() string {
	switch g {
	case GenerationIncludeList:
		return "include_list"
	case GenerationSinkMapping:
		return "sink_mapping"
	default:
		return "unknown"
	}
}

// Rules is the active routing generation
type Rules interface {
	Generation() Generation
	Resolve(event string) (Sink, bool)
}

// IncludeList forwards every listed event to the same sink
type IncludeList struct {
	Events []string
	Sink   Sink
}

// Generation implements Rules
func (IncludeList) Generation() Generation { return GenerationIncludeList }

// Resolve implements Rules. Names must match verbatim.
func (l IncludeList) Resolve(event string) (Sink, bool) {
	for _, name := range l.Events {
		if name == event {
			return l.Sink, true
		}
	}
	return Sink{}, false
}

// SinkMapping forwards each mapped event to its own sink
type SinkMapping map[string]Sink

// Generation implements Rules
func (SinkMapping) Generation() Generation { return GenerationSinkMapping }

// Resolve implements Rules
func (m SinkMapping) Resolve(event string) (Sink, bool) {
	sink, ok := m[event]
	return sink, ok
}

// Config is a validated routing configuration
type Config struct {
	rules Rules
}

// Generation returns the active routing generation
func (c *Config) Generation() Generation {
	return c.rules.Generation()
}

// Rules returns the underlying routing rules
func (c *Config) Rules() Rules {
	return c.rules
}

// Resolve returns the sink for an event, or false when the event is not routed
func (c *Config) Resolve(event string) (Sink, bool) {
	return c.rules.Resolve(event)
}

// locationFields maps geo properties onto their record field names
var locationFields = []struct{ property, field string }{
	{"$country_name", "country"},
	{"$country_code", "country_code"},
	{"$postal_code", "postal_code"},
	{"$city_name", "city"},
	{"$latitude", "latitude"},
	{"$longitude", "longitude"},
	{"$time_zone", "time_zone"},
	{"$continent_name", "continent_name"},
	{"$continent_code", "continent_code"},
}

// Payload returns the properties sent to s for an event. props is not
// modified.
func (s Sink) Payload(props map[string]interface{}) map[string]interface{} {
	if s.EnrichLocation {
		props = WithLocationRecord(props)
	}
	return FilterProperties(props, s.Properties)
}

// WithLocationRecord returns a shallow copy of props whose "record" entry is
// the existing record merged with the event's geo properties.
func WithLocationRecord(props map[string]interface{}) map[string]interface{} {
	record := make(map[string]interface{})
	if existing, ok := props["record"].(map[string]interface{}); ok {
		for k, v := range existing {
			record[k] = v
		}
	}
	for _, lf := range locationFields {
		if value, ok := props[lf.property]; ok {
			record[lf.field] = value
		}
	}

	enriched := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		enriched[k] = v
	}
	enriched["record"] = record
	return enriched
}
