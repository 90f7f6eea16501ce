package core

import (
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp accepts the timestamp shapes the editor and the remote
// export actually produce: epoch millis, epoch seconds, or a handful of
// ISO layouts. Returns the zero time when nothing parses.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 { // epoch millis
			return time.Unix(n/1000, (n%1000)*1e6).UTC()
		}
		return time.Unix(n, 0).UTC() // epoch secs
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
