package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(logID int64, stage, at string) StageEvent {
	return StageEvent{LogID: logID, EntryID: uuid.Nil, StageName: stage, OccurredAt: at}
}

func strPtr(s string) *string { return &s }

func TestResolveStatusLatestTimestampWins(t *testing.T) {
	events := []StageEvent{
		ev(1, "Applied", "2024-01-01T00:00:00Z"),
		ev(3, "Interview", "2024-02-01T00:00:00Z"),
		ev(2, "Screening", "2024-01-15T00:00:00Z"),
	}
	assert.Equal(t, "Interview", ResolveStatus(events, nil, ""))
}

func TestResolveStatusTieBrokenByLogID(t *testing.T) {
	events := []StageEvent{
		ev(5, "Screening", "2024-01-01T10:00:00Z"),
		ev(6, "Interview", "2024-01-01T10:00:00Z"),
	}
	assert.Equal(t, "Interview", ResolveStatus(events, nil, ""))

	// storage order must not matter
	reversed := []StageEvent{events[1], events[0]}
	assert.Equal(t, "Interview", ResolveStatus(reversed, nil, ""))
}

func TestResolveStatusFallbacks(t *testing.T) {
	assert.Equal(t, "Sourced", ResolveStatus(nil, strPtr("Sourced"), ""))
	assert.Equal(t, DefaultStage, ResolveStatus(nil, nil, ""))
	assert.Equal(t, DefaultStage, ResolveStatus(nil, strPtr(""), ""))
	assert.Equal(t, "Longlist", ResolveStatus(nil, nil, "Longlist"))
}

func TestResolveStatusEventBeatsFallback(t *testing.T) {
	events := []StageEvent{ev(1, "Offer", "2024-03-01")}
	assert.Equal(t, "Offer", ResolveStatus(events, strPtr("Sourced"), ""))
}

func TestUnparsableTimestampSortsEarliest(t *testing.T) {
	events := []StageEvent{
		ev(9, "Legacy", "sometime last spring"),
		ev(2, "Screening", "2023-06-01 09:00:00"),
	}
	assert.Equal(t, "Screening", ResolveStatus(events, nil, ""))

	onlyBroken := []StageEvent{ev(1, "A", "??"), ev(2, "B", "")}
	assert.Equal(t, "B", ResolveStatus(onlyBroken, nil, ""))
}

func TestChronologicalIsStable(t *testing.T) {
	events := []StageEvent{
		ev(3, "C", "2024-01-03"),
		ev(1, "A", "2024-01-01"),
		ev(2, "B", "2024-01-01"),
	}
	sorted := Chronological(events)
	require.Len(t, sorted, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{sorted[0].LogID, sorted[1].LogID, sorted[2].LogID})
	// input untouched
	assert.Equal(t, int64(3), events[0].LogID)
}

func TestLatestEventEmpty(t *testing.T) {
	_, ok := LatestEvent(nil)
	assert.False(t, ok)
}
