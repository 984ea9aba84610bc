package routing

import "strings"

// FilterProperties keeps only the allow-listed keys of props. An empty
// allow-list returns props unchanged.
func FilterProperties(props map[string]interface{}, allow []string) map[string]interface{} {
	if len(allow) == 0 {
		return props
	}

	filtered := make(map[string]interface{}, len(allow))
	for _, key := range allow {
		if value, ok := props[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}

// ParseAllowList splits a comma-separated allow-list and trims each segment.
// Empty segments are kept.
func ParseAllowList(raw string) []string {
	if raw == "" {
		return []string{}
	}

	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
