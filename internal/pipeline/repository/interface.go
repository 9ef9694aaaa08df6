package repository

import (
	"context"
	"errors"

	"ats_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a referenced entry, requisition or candidate does not exist.
	ErrNotFound = errors.New("pipeline record not found")
	// ErrIDConflict is returned when a log id could not be allocated or collided on insert.
	ErrIDConflict = errors.New("log id conflict")
	// ErrEntryExists is returned when a candidate already has an entry on the requisition.
	ErrEntryExists = errors.New("candidate already on requisition")
)

// =====================================
// Segregated Interfaces
// =====================================

// EntryReader provides read-only access to pipeline entries.
type EntryReader interface {
	GetEntry(ctx context.Context, id uuid.UUID) (domain.Entry, error)
	// ListEntries returns the entries that exist among ids; unknown ids are skipped.
	ListEntries(ctx context.Context, ids []uuid.UUID) ([]domain.Entry, error)
	ListEntriesByRequisition(ctx context.Context, requisitionID uuid.UUID) ([]domain.Entry, error)
	ListEntriesByCandidates(ctx context.Context, requisitionID uuid.UUID, candidateIDs []uuid.UUID) ([]domain.Entry, error)
}

// EntryWriter creates and removes pipeline entries.
type EntryWriter interface {
	CreateEntries(ctx context.Context, params []CreateEntryParams) ([]domain.Entry, error)
	// CreateEntriesWithSeed inserts entries and one seed event per entry atomically.
	CreateEntriesWithSeed(ctx context.Context, params []CreateEntryParams, seed SeedEvent) ([]domain.Entry, []domain.StageEvent, error)
	// DeleteEntries removes entries and their events; returns how many entries existed.
	DeleteEntries(ctx context.Context, ids []uuid.UUID) (int, error)
}

// EventReader provides access to the append-only stage event log.
type EventReader interface {
	// ListEvents returns each entry's events keyed by entry id, in storage order.
	ListEvents(ctx context.Context, entryIDs []uuid.UUID) (map[uuid.UUID][]domain.StageEvent, error)
}

// EventWriter appends stage events. All events of one call receive one
// contiguous block of log ids, in input order.
type EventWriter interface {
	AppendEvents(ctx context.Context, events []NewEvent) ([]domain.StageEvent, error)
}

// StageStore manages the canonical stage catalog.
type StageStore interface {
	ListStages(ctx context.Context) ([]domain.StageDefinition, error)
	UpsertStages(ctx context.Context, stages []domain.StageDefinition) error
}

// RequisitionStore manages requisitions.
type RequisitionStore interface {
	CreateRequisition(ctx context.Context, title string) (domain.Requisition, error)
	GetRequisition(ctx context.Context, id uuid.UUID) (domain.Requisition, error)
}

// CandidateStore manages candidate identities.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, params CreateCandidateParams) (domain.CandidateIdentity, error)
	GetCandidate(ctx context.Context, id uuid.UUID) (domain.CandidateIdentity, error)
	FindIdentityCandidates(ctx context.Context, query CoarseQuery) ([]domain.CandidateIdentity, error)
}

// FacetStore answers facet membership and value queries over experience records.
type FacetStore interface {
	CandidatesMatching(ctx context.Context, facet domain.Facet, values []string) ([]uuid.UUID, error)
	DistinctValues(ctx context.Context, facet domain.Facet, query ValueQuery) ([]string, error)
}

// =====================================
// Composite Interface
// =====================================

// PipelineRepository is everything the pipeline service persists through.
type PipelineRepository interface {
	EntryReader
	EntryWriter
	EventReader
	EventWriter
	StageStore
	RequisitionStore
	CandidateStore
	FacetStore
}

var (
	_ PipelineRepository = (*Repository)(nil)
	_ PipelineRepository = (*MemoryRepository)(nil)
)
