package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a Go duration string. A bare number is read as
// seconds, so "1" and "1s" are equivalent.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
