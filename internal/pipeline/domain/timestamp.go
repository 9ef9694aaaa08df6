package domain

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the layout new events are written with.
const TimestampLayout = time.RFC3339Nano

// minUnixDigits keeps short integers such as compact dates from reading as 1970.
const minUnixDigits = 9

// lenientLayouts are tried in order; the first that parses wins.
var lenientLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102",
	"02.01.2006 15:04",
	"02.01.2006",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses a loosely formatted event timestamp. Layouts without
// a zone are read as UTC. Eight digits are a compact date; bare integers of
// nine or more digits are unix seconds. The second result is false when
// nothing matched.
func ParseTimestamp(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range lenientLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}

	if len(value) < minUnixDigits {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}

	return time.Time{}, false
}

// FormatTimestamp renders t the way new events are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
