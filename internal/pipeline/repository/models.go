package repository

import (
	"ats_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// CreateEntryParams describes one pipeline entry to insert.
type CreateEntryParams struct {
	RequisitionID uuid.UUID
	CandidateID   uuid.UUID
	FallbackStage *string
	Rank          int
	ListType      string
}

// NewEvent is a stage event before it has been assigned a log id.
type NewEvent struct {
	EntryID    uuid.UUID
	StageName  string
	Actor      string
	OccurredAt string
	Note       string
}

// SeedEvent describes the synthetic initial event written with a new entry.
type SeedEvent struct {
	StageName  string
	Actor      string
	OccurredAt string
	Note       string
}

// CreateCandidateParams describes a candidate identity with its experience history.
type CreateCandidateParams struct {
	Name        string
	ProfileLink string
	Experience  []domain.ExperienceRecord
}

// CoarseQuery narrows identity candidates before exact comparison.
// Matching is case and accent insensitive; either field may be blank.
// Rows whose normalized name equals FullName come first, then rows hit by
// LinkFragment, then the rest newest first, so Limit never cuts an exact match
// in favor of a looser one.
type CoarseQuery struct {
	NameToken    string
	FullName     string
	LinkFragment string
	Limit        int
}

// ValueQuery asks for distinct values of one facet.
// When Scoped is false the whole candidate base is considered.
type ValueQuery struct {
	Scoped     bool
	Population []uuid.UUID
	Prefix     string
	Limit      int
}

func listTypeOrDefault(listType string) string {
	if listType == "" {
		return domain.ListTypePipeline
	}
	return listType
}
