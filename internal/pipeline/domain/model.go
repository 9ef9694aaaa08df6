// Package domain provides the core business rules of the candidate pipeline:
// stage resolution, funnel/aging aggregation and population scoping.
// Everything here is pure and safe for concurrent use.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageEvent is one append-only stage transition of a pipeline entry.
// OccurredAt is kept as written; legacy rows carry loosely formatted values.
type StageEvent struct {
	LogID      int64
	EntryID    uuid.UUID
	StageName  string
	Actor      string
	OccurredAt string
	Note       string
}

// Entry is one candidate's participation in one requisition's pipeline.
type Entry struct {
	ID            uuid.UUID
	RequisitionID uuid.UUID
	CandidateID   uuid.UUID
	FallbackStage *string
	Rank          int
	ListType      string
	CreatedAt     time.Time
}

// Requisition is an open position candidates are pipelined against.
type Requisition struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
}

// ExperienceRecord is one row of a candidate's denormalized experience history.
type ExperienceRecord struct {
	CandidateID    uuid.UUID
	Company        string
	Position       string
	Country        string
	Industry       string
	CorporateGroup string
	StartDate      *time.Time
}

// CandidateIdentity holds the fields duplicate detection matches on.
type CandidateIdentity struct {
	ID          uuid.UUID
	Name        string
	ProfileLink string
}

// ListTypePipeline is the list type entries get unless the caller says otherwise.
const ListTypePipeline = "pipeline"
