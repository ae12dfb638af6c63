package domain

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted by ParseTimestamp, with and without a zone designator.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// ParseTimestamp parses an ISO-8601 timestamp. Values without zone information
// are interpreted in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders t as ISO-8601 with its offset and at most microsecond precision.
func FormatTimestamp(t time.Time) string {
	return t.Truncate(time.Microsecond).Format(timestampLayout)
}
