package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2024-05-01T12:30:00Z", time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), true},
		{"2024-05-01T14:30:00+02:00", time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), true},
		{"2024-05-01 12:30:00", time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), true},
		{"2024-05-01 12:30:00.123456", time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.UTC), true},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024/05/01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"01.05.2024", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"May 1, 2024", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"1714566600", time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), true},
		{"20260101", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"20261301", time.Time{}, false},
		{"12345", time.Time{}, false},
		{"  ", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := ParseTimestamp(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, tc.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestFormatTimestampRoundTrips(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 42, time.FixedZone("CET", 3600))
	parsed, ok := ParseTimestamp(FormatTimestamp(now))
	assert.True(t, ok)
	assert.True(t, now.Equal(parsed))
}
