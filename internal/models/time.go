package models

import (
	"strconv"
	"strings"
	"time"
)

// boundary time formats accepted from external collaborators, tried in
// order. Epoch seconds are handled separately.
var boundaryTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// ParseFlexibleTime parses a date crossing the system boundary, which
// may be ISO-8601 in several shapes or epoch seconds. The second return
// value reports whether parsing succeeded; callers fall back to "now"
// and log a warning when it did not. Invalid input is never a hard
// failure.
func ParseFlexibleTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, format := range boundaryTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}

	// Epoch seconds. Anything shorter than 8 digits is more likely a
	// reference number than a timestamp.
	if len(s) >= 8 {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	}

	return time.Time{}, false
}

// ParseFlexibleTimeOr parses like ParseFlexibleTime but substitutes the
// fallback on failure.
func ParseFlexibleTimeOr(s string, fallback time.Time) time.Time {
	if t, ok := ParseFlexibleTime(s); ok {
		return t
	}
	return fallback
}

// DaysBetween returns the absolute gap between two dates in whole days.
func DaysBetween(a, b time.Time) float64 {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff.Hours() / 24
}
