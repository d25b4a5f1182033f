package jwt

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTTL converts a shorthand lifetime ("<n>m", "<n>h", "<n>d") into a
// duration. Anything else, including non-positive counts, yields DefaultTTL.
func ParseTTL(s string) time.Duration {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return DefaultTTL
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return DefaultTTL
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return DefaultTTL
	}
	if time.Duration(n) > math.MaxInt64/unit {
		return DefaultTTL
	}

	return time.Duration(n) * unit
}
