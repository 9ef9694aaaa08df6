package domain

import (
	"cmp"
	"slices"
	"strings"
)

const (
	// DefaultStage is the canonical "initial pool" stage an entry is in
	// when it has neither events nor a fallback stage.
	DefaultStage = "Pool"

	// UnorderedStage is the sentinel order of a stage without an explicit
	// position; such stages sort first.
	UnorderedStage = -1
)

// StageDefinition is one step of the canonical funnel sequence.
type StageDefinition struct {
	Name     string
	Order    int
	Terminal bool
}

// SortStages returns the definitions in funnel order: sentinel-ordered stages
// first, then ascending order, ties broken by name.
func SortStages(stages []StageDefinition) []StageDefinition {
	sorted := slices.Clone(stages)
	slices.SortStableFunc(sorted, func(a, b StageDefinition) int {
		aUnordered, bUnordered := a.Order == UnorderedStage, b.Order == UnorderedStage
		if aUnordered != bUnordered {
			if aUnordered {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sorted
}

// StageIndex maps stage names to their definitions.
type StageIndex map[string]StageDefinition

// IndexStages builds a lookup of stages by name.
func IndexStages(stages []StageDefinition) StageIndex {
	index := make(StageIndex, len(stages))
	for _, stage := range stages {
		index[stage.Name] = stage
	}
	return index
}

// Has reports whether name is a defined stage.
func (i StageIndex) Has(name string) bool {
	_, ok := i[name]
	return ok
}

// CanonicalDefault returns configured when it is set, DefaultStage otherwise.
func CanonicalDefault(configured string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return DefaultStage
}
