package domain

import (
	"cmp"
	"slices"
	"time"
)

// orderedEvent carries an event with its parsed timestamp.
// Unparsable timestamps sort before every parsable one.
type orderedEvent struct {
	StageEvent
	at     time.Time
	parsed bool
}

func orderEvent(e StageEvent) orderedEvent {
	at, ok := ParseTimestamp(e.OccurredAt)
	return orderedEvent{StageEvent: e, at: at, parsed: ok}
}

func compareOrdered(a, b orderedEvent) int {
	if a.parsed != b.parsed {
		if a.parsed {
			return 1
		}
		return -1
	}
	if a.parsed {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.LogID, b.LogID)
}

// CompareEvents orders events by timestamp, then log id.
func CompareEvents(a, b StageEvent) int {
	return compareOrdered(orderEvent(a), orderEvent(b))
}

// Chronological returns a copy of events sorted oldest first.
func Chronological(events []StageEvent) []StageEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, CompareEvents)
	return sorted
}

// LatestEvent returns the event with the greatest (timestamp, log id).
func LatestEvent(events []StageEvent) (StageEvent, bool) {
	if len(events) == 0 {
		return StageEvent{}, false
	}
	best := orderEvent(events[0])
	for _, e := range events[1:] {
		candidate := orderEvent(e)
		if compareOrdered(candidate, best) > 0 {
			best = candidate
		}
	}
	return best.StageEvent, true
}

// ResolveStatus returns an entry's current stage: the stage of its latest
// event, else its fallback stage, else canonicalDefault (DefaultStage when blank).
// Equal timestamps are decided by the higher log id; the stored order of
// events is irrelevant.
func ResolveStatus(events []StageEvent, fallback *string, canonicalDefault string) string {
	if latest, ok := LatestEvent(events); ok {
		return latest.StageName
	}
	if fallback != nil && *fallback != "" {
		return *fallback
	}
	return CanonicalDefault(canonicalDefault)
}
