// Package timeutil formats and parses the ISO-8601 UTC timestamps used
// throughout hardstop. Every emitted timestamp ends with a literal "Z"
// (never "+00:00") and carries fixed microsecond precision so that
// lexicographic comparison matches chronological order.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// LayoutZ is the canonical storage layout: fixed-width microseconds, Z suffix.
const LayoutZ = "2006-01-02T15:04:05.000000Z"

// UTCNowZ returns the current UTC time in the canonical Z format.
func UTCNowZ() string {
	return ToUTCZ(time.Now())
}

// ToUTCZ converts t to the canonical Z format.
func ToUTCZ(t time.Time) string {
	return t.UTC().Format(LayoutZ)
}

// ParseZ parses an ISO-8601 timestamp. It accepts the canonical Z layout,
// RFC 3339 variants with offsets, and bare date-time strings (assumed UTC).
func ParseZ(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{
		LayoutZ,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", value)
}

// CutoffZ returns now minus the given duration, in the canonical Z format.
// Stored timestamps compare against it lexicographically.
func CutoffZ(now time.Time, back time.Duration) string {
	return ToUTCZ(now.Add(-back))
}

// ParseSince converts a "--since" style window ("24h", "72h", "7d") into
// hours. Returns 0 and false when the value is not recognized.
func ParseSince(since string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(since))
	if s == "" {
		return 0, false
	}
	var n int
	switch {
	case strings.HasSuffix(s, "h"):
		if _, err := fmt.Sscanf(s, "%dh", &n); err != nil || n < 0 {
			return 0, false
		}
		return n, true
	case strings.HasSuffix(s, "d"):
		if _, err := fmt.Sscanf(s, "%dd", &n); err != nil || n < 0 {
			return 0, false
		}
		return n * 24, true
	}
	return 0, false
}
