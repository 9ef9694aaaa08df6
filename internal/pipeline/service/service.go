// Package service orchestrates the candidate pipeline: status resolution,
// funnel aggregation over scoped populations, facet search, duplicate
// checks and the append-only stage event writes.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"ats_backend/internal/pipeline/dedupe"
	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/facets"
	"ats_backend/internal/pipeline/intake"
	"ats_backend/internal/pipeline/metrics"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/platform/apperr"
	"ats_backend/platform/config"
	"ats_backend/platform/logger"
	"ats_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultSuggestLimit = 20
	maxSuggestLimit     = 100
	copySeedNote        = "copied into requisition"
	maxNoteRunes        = 2000
)

// Repository is the persistence the service needs.
type Repository interface {
	repository.EntryReader
	repository.EntryWriter
	repository.EventReader
	repository.EventWriter
	repository.StageStore
	repository.RequisitionStore
	repository.CandidateStore
}

// StatusView is an entry's resolved current stage.
type StatusView struct {
	EntryID   uuid.UUID
	Stage     string
	Source    string
	Known     bool
	Terminal  bool
	LastEvent *domain.StageEvent
}

// Status sources.
const (
	StatusFromEvent    = "event"
	StatusFromFallback = "fallback"
	StatusFromDefault  = "default"
)

// Service handles pipeline operations.
type Service struct {
	repo         Repository
	facets       *facets.Engine
	detector     *dedupe.Detector
	queue        intake.Queue
	log          *logger.Logger
	metrics      *metrics.Metrics
	defaultStage string
	maxBatch     int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for event timestamps and aging.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a new pipeline service.
func New(
	repo Repository,
	engine *facets.Engine,
	detector *dedupe.Detector,
	queue intake.Queue,
	cfg config.PipelineConfig,
	log *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		repo:         repo,
		facets:       engine,
		detector:     detector,
		queue:        queue,
		log:          log,
		metrics:      m,
		defaultStage: domain.CanonicalDefault(cfg.GetDefaultStage()),
		maxBatch:     cfg.GetMaxBatchSize(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultStage is the stage entries without events or fallback resolve to.
func (s *Service) DefaultStage() string { return s.defaultStage }

func (s *Service) observe(op string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = apperr.GetKind(*err).String()
	}
	s.metrics.ObserveOperation(op, outcome, start)
}

// storeErr classifies a repository failure.
func (s *Service) storeErr(op, what string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(what + " not found").WithOp(op)
	case errors.Is(err, repository.ErrIDConflict):
		return apperr.RaceCondition("log id allocation collided, retry the write", err).WithOp(op)
	case errors.Is(err, repository.ErrEntryExists):
		return apperr.Conflict("candidate is already on the requisition").WithOp(op)
	}
	if s.log != nil {
		s.log.DatabaseError(op, err)
	}
	return apperr.Store("read or write "+what, err).WithOp(op)
}

func facetErr(op string, err error) error {
	if errors.Is(err, facets.ErrFacetTimeout) {
		return apperr.Store("facet query timed out", err).WithOp(op)
	}
	return apperr.Store("facet query failed", err).WithOp(op)
}

func (s *Service) validateIDs(ids []uuid.UUID, what string) error {
	if len(ids) == 0 {
		return apperr.Validation("at least one " + what + " id is required")
	}
	if s.maxBatch > 0 && len(ids) > s.maxBatch {
		return apperr.Validation(fmt.Sprintf("at most %d %s ids per request", s.maxBatch, what)).
			WithDetails(map[string]int{"max": s.maxBatch, "got": len(ids)})
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return apperr.Validation(what + " id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return apperr.Validation("duplicate " + what + " id " + id.String())
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (s *Service) stageIndex(ctx context.Context, op string) (domain.StageIndex, error) {
	stages, err := s.repo.ListStages(ctx)
	if err != nil {
		return nil, s.storeErr(op, "stage catalog", err)
	}
	return domain.IndexStages(stages), nil
}

func (s *Service) validateStage(ctx context.Context, op, stage string) (string, error) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "", apperr.Validation("stage is required").WithOp(op)
	}
	index, err := s.stageIndex(ctx, op)
	if err != nil {
		return "", err
	}
	if !index.Has(stage) {
		return "", apperr.Validation(fmt.Sprintf("unknown stage %q", stage)).WithOp(op)
	}
	return stage, nil
}

func missingIDs(want []uuid.UUID, got []domain.Entry) []uuid.UUID {
	found := make(map[uuid.UUID]struct{}, len(got))
	for _, e := range got {
		found[e.ID] = struct{}{}
	}
	missing := make([]uuid.UUID, 0)
	for _, id := range want {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *Service) loadEntries(ctx context.Context, op string, ids []uuid.UUID) ([]domain.Entry, error) {
	entries, err := s.repo.ListEntries(ctx, ids)
	if err != nil {
		return nil, s.storeErr(op, "entries", err)
	}
	if missing := missingIDs(ids, entries); len(missing) > 0 {
		return nil, apperr.NotFound("entries not found").WithOp(op).WithDetails(map[string]any{"missing": missing})
	}
	return entries, nil
}

// =====================================
// Reads
// =====================================

// ResolveStatus returns an entry's current stage.
func (s *Service) ResolveStatus(ctx context.Context, entryID uuid.UUID) (view StatusView, err error) {
	const op = "pipeline.ResolveStatus"
	defer s.observe("ResolveStatus", time.Now(), &err)

	if entryID == uuid.Nil {
		return StatusView{}, apperr.Validation("entry id is required").WithOp(op)
	}
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return StatusView{}, s.storeErr(op, "entry", err)
	}
	grouped, err := s.repo.ListEvents(ctx, []uuid.UUID{entryID})
	if err != nil {
		return StatusView{}, s.storeErr(op, "events", err)
	}
	index, err := s.stageIndex(ctx, op)
	if err != nil {
		return StatusView{}, err
	}

	events := grouped[entryID]
	view = StatusView{
		EntryID: entryID,
		Stage:   domain.ResolveStatus(events, entry.FallbackStage, s.defaultStage),
	}
	switch latest, ok := domain.LatestEvent(events); {
	case ok:
		view.Source = StatusFromEvent
		view.LastEvent = &latest
	case entry.FallbackStage != nil && *entry.FallbackStage != "":
		view.Source = StatusFromFallback
	default:
		view.Source = StatusFromDefault
	}
	def, known := index[view.Stage]
	view.Known = known
	view.Terminal = known && def.Terminal
	return view, nil
}

// History returns an entry's events, newest first.
func (s *Service) History(ctx context.Context, entryID uuid.UUID) (events []domain.StageEvent, err error) {
	const op = "pipeline.History"
	defer s.observe("History", time.Now(), &err)

	if entryID == uuid.Nil {
		return nil, apperr.Validation("entry id is required").WithOp(op)
	}
	if _, err := s.repo.GetEntry(ctx, entryID); err != nil {
		return nil, s.storeErr(op, "entry", err)
	}
	grouped, err := s.repo.ListEvents(ctx, []uuid.UUID{entryID})
	if err != nil {
		return nil, s.storeErr(op, "events", err)
	}
	events = domain.Chronological(grouped[entryID])
	slices.Reverse(events)
	return events, nil
}

// ListStages returns the canonical funnel sequence.
func (s *Service) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	stages, err := s.repo.ListStages(ctx)
	if err != nil {
		return nil, s.storeErr("pipeline.ListStages", "stage catalog", err)
	}
	return stages, nil
}

// GetFunnel aggregates the population selected by filter.
func (s *Service) GetFunnel(ctx context.Context, filter domain.PopulationFilter) (funnel domain.Funnel, err error) {
	const op = "pipeline.GetFunnel"
	defer s.observe("GetFunnel", time.Now(), &err)

	if filter == nil {
		return domain.Funnel{}, apperr.Validation("population filter is required").WithOp(op)
	}
	if err := filter.Validate(); err != nil {
		return domain.Funnel{}, err
	}

	now := s.now()
	entries, events, err := s.population(ctx, op, filter, now)
	if err != nil {
		return domain.Funnel{}, err
	}
	if len(entries) == 0 {
		return domain.Funnel{Stages: []domain.StageStat{}, GeneratedAt: now}, nil
	}

	stages, err := s.repo.ListStages(ctx)
	if err != nil {
		return domain.Funnel{}, s.storeErr(op, "stage catalog", err)
	}

	timelines := make([]domain.EntityTimeline, 0, len(entries))
	for _, e := range entries {
		timelines = append(timelines, domain.EntityTimeline{
			EntryID:       e.ID,
			Events:        events[e.ID],
			FallbackStage: e.FallbackStage,
		})
	}
	s.metrics.ObserveFunnelPopulation(len(timelines))

	return domain.Aggregate(domain.AggregateInput{
		Entities:     timelines,
		Stages:       stages,
		Now:          now,
		DefaultStage: s.defaultStage,
	}), nil
}

// population resolves a filter to entries and their events. An empty
// facet intersection returns before any entry or event is read.
func (s *Service) population(ctx context.Context, op string, filter domain.PopulationFilter, now time.Time) ([]domain.Entry, map[uuid.UUID][]domain.StageEvent, error) {
	var (
		entries []domain.Entry
		err     error
	)

	switch f := filter.(type) {
	case domain.RequisitionScope:
		if entries, err = s.requisitionEntries(ctx, op, f.RequisitionID); err != nil {
			return nil, nil, err
		}
	case domain.EntryIDs:
		if err := s.validateIDs(f.IDs, "entry"); err != nil {
			return nil, nil, err
		}
		if entries, err = s.repo.ListEntries(ctx, f.IDs); err != nil {
			return nil, nil, s.storeErr(op, "entries", err)
		}
	case domain.AgingBucket:
		if entries, err = s.requisitionEntries(ctx, op, f.RequisitionID); err != nil {
			return nil, nil, err
		}
		events, err := s.events(ctx, op, entries)
		if err != nil {
			return nil, nil, err
		}
		aged := entries[:0:0]
		for _, e := range entries {
			if f.Contains(domain.CurrentStageDays(events[e.ID], e.CreatedAt, now)) {
				aged = append(aged, e)
			}
		}
		return aged, events, nil
	case domain.FacetScope:
		if _, err := s.repo.GetRequisition(ctx, f.RequisitionID); err != nil {
			return nil, nil, s.storeErr(op, "requisition", err)
		}
		selection, err := s.facets.Intersect(ctx, f.Facets)
		if err != nil {
			return nil, nil, facetErr(op, err)
		}
		switch {
		case selection.IsEmpty():
			return nil, nil, nil
		case selection.IsUnrestricted():
			entries, err = s.repo.ListEntriesByRequisition(ctx, f.RequisitionID)
		default:
			entries, err = s.repo.ListEntriesByCandidates(ctx, f.RequisitionID, selection.IDs())
		}
		if err != nil {
			return nil, nil, s.storeErr(op, "entries", err)
		}
	default:
		return nil, nil, apperr.Validation(fmt.Sprintf("unsupported population filter %T", filter)).WithOp(op)
	}

	events, err := s.events(ctx, op, entries)
	if err != nil {
		return nil, nil, err
	}
	return entries, events, nil
}

func (s *Service) requisitionEntries(ctx context.Context, op string, requisitionID uuid.UUID) ([]domain.Entry, error) {
	if _, err := s.repo.GetRequisition(ctx, requisitionID); err != nil {
		return nil, s.storeErr(op, "requisition", err)
	}
	entries, err := s.repo.ListEntriesByRequisition(ctx, requisitionID)
	if err != nil {
		return nil, s.storeErr(op, "entries", err)
	}
	return entries, nil
}

func (s *Service) events(ctx context.Context, op string, entries []domain.Entry) (map[uuid.UUID][]domain.StageEvent, error) {
	if len(entries) == 0 {
		return map[uuid.UUID][]domain.StageEvent{}, nil
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	events, err := s.repo.ListEvents(ctx, ids)
	if err != nil {
		return nil, s.storeErr(op, "events", err)
	}
	return events, nil
}

// IntersectFacets returns the candidates matching every active facet.
func (s *Service) IntersectFacets(ctx context.Context, selection domain.FacetMap) (sel facets.Selection, err error) {
	defer s.observe("IntersectFacets", time.Now(), &err)

	sel, err = s.facets.Intersect(ctx, selection)
	if err != nil {
		return facets.Selection{}, facetErr("pipeline.IntersectFacets", err)
	}
	return sel, nil
}

// SuggestFacetValues lists values of target within the population the
// other facets select.
func (s *Service) SuggestFacetValues(ctx context.Context, target domain.Facet, selection domain.FacetMap, prefix string, limit int) (values []string, err error) {
	const op = "pipeline.SuggestFacetValues"
	defer s.observe("SuggestFacetValues", time.Now(), &err)

	if !slices.Contains(domain.AllFacets, target) {
		return nil, apperr.Validation(fmt.Sprintf("unknown facet %q", target)).WithOp(op)
	}
	switch {
	case limit <= 0:
		limit = defaultSuggestLimit
	case limit > maxSuggestLimit:
		limit = maxSuggestLimit
	}

	values, err = s.facets.Suggest(ctx, target, selection, prefix, limit)
	if err != nil {
		return nil, facetErr(op, err)
	}
	return values, nil
}

// CheckDuplicate reports whether the identity already exists in the store.
func (s *Service) CheckDuplicate(ctx context.Context, name, profileLink string) (dedupe.Result, error) {
	if strings.TrimSpace(name) == "" && strings.TrimSpace(profileLink) == "" {
		return dedupe.Result{}, apperr.Validation("name or profile link is required").WithOp("pipeline.CheckDuplicate")
	}
	return s.detector.Check(ctx, name, profileLink), nil
}

// CheckQueuedDuplicate checks a queued record against the store and the
// rest of the intake queue.
func (s *Service) CheckQueuedDuplicate(ctx context.Context, recordID uuid.UUID, name, profileLink string) (dedupe.Result, error) {
	const op = "pipeline.CheckQueuedDuplicate"
	if recordID == uuid.Nil {
		return dedupe.Result{}, apperr.Validation("record id is required").WithOp(op)
	}
	if strings.TrimSpace(name) == "" && strings.TrimSpace(profileLink) == "" {
		return dedupe.Result{}, apperr.Validation("name or profile link is required").WithOp(op)
	}
	return s.detector.CheckQueued(ctx, recordID, name, profileLink), nil
}

// =====================================
// Writes
// =====================================

// AppendStatusEvent records a stage transition. The entry's fallback stage
// is never touched.
func (s *Service) AppendStatusEvent(ctx context.Context, entryID uuid.UUID, stage, actor, note string) (event domain.StageEvent, err error) {
	const op = "pipeline.AppendStatusEvent"
	defer s.observe("AppendStatusEvent", time.Now(), &err)

	if entryID == uuid.Nil {
		return domain.StageEvent{}, apperr.Validation("entry id is required").WithOp(op)
	}
	events, err := s.appendEvents(ctx, op, []uuid.UUID{entryID}, stage, actor, note)
	if err != nil {
		return domain.StageEvent{}, err
	}
	return events[0], nil
}

// BatchAppendStatusEvent moves every entry to stage in one write; the
// events share one contiguous block of log ids.
func (s *Service) BatchAppendStatusEvent(ctx context.Context, entryIDs []uuid.UUID, stage, actor, note string) (events []domain.StageEvent, err error) {
	const op = "pipeline.BatchAppendStatusEvent"
	defer s.observe("BatchAppendStatusEvent", time.Now(), &err)

	if err := s.validateIDs(entryIDs, "entry"); err != nil {
		return nil, err
	}
	return s.appendEvents(ctx, op, entryIDs, stage, actor, note)
}

func (s *Service) appendEvents(ctx context.Context, op string, entryIDs []uuid.UUID, stage, actor, note string) ([]domain.StageEvent, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, apperr.Validation("actor is required").WithOp(op)
	}
	stage, err := s.validateStage(ctx, op, stage)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadEntries(ctx, op, entryIDs); err != nil {
		return nil, err
	}

	occurredAt := domain.FormatTimestamp(s.now())
	batch := make([]repository.NewEvent, 0, len(entryIDs))
	for _, id := range entryIDs {
		batch = append(batch, repository.NewEvent{
			EntryID:    id,
			StageName:  stage,
			Actor:      actor,
			OccurredAt: occurredAt,
			Note:       sanitize.Note(note, maxNoteRunes),
		})
	}

	stored, err := s.repo.AppendEvents(ctx, batch)
	if err != nil {
		return nil, s.storeErr(op, "entry", err)
	}
	s.metrics.AddEventsAppended(len(stored))
	s.log.WithContext(ctx).Info("stage events appended",
		"stage", stage, "count", len(stored), "first_log_id", stored[0].LogID)
	return stored, nil
}

// RemoveEntries deletes entries together with their event history.
func (s *Service) RemoveEntries(ctx context.Context, entryIDs []uuid.UUID) (removed int, err error) {
	const op = "pipeline.RemoveEntries"
	defer s.observe("RemoveEntries", time.Now(), &err)

	if err := s.validateIDs(entryIDs, "entry"); err != nil {
		return 0, err
	}
	removed, err = s.repo.DeleteEntries(ctx, entryIDs)
	if err != nil {
		return 0, s.storeErr(op, "entries", err)
	}
	return removed, nil
}

// CopyEntries creates entries for the same candidates in target. Each new
// entry starts with a single event at the default stage; history is not copied.
func (s *Service) CopyEntries(ctx context.Context, entryIDs []uuid.UUID, target uuid.UUID, actor string) (entries []domain.Entry, err error) {
	const op = "pipeline.CopyEntries"
	defer s.observe("CopyEntries", time.Now(), &err)

	if err := s.validateIDs(entryIDs, "entry"); err != nil {
		return nil, err
	}
	if target == uuid.Nil {
		return nil, apperr.Validation("target requisition id is required").WithOp(op)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, apperr.Validation("actor is required").WithOp(op)
	}
	if _, err := s.repo.GetRequisition(ctx, target); err != nil {
		return nil, s.storeErr(op, "target requisition", err)
	}
	sources, err := s.loadEntries(ctx, op, entryIDs)
	if err != nil {
		return nil, err
	}

	params := make([]repository.CreateEntryParams, 0, len(sources))
	for _, src := range sources {
		params = append(params, repository.CreateEntryParams{
			RequisitionID: target,
			CandidateID:   src.CandidateID,
			Rank:          src.Rank,
			ListType:      src.ListType,
		})
	}

	entries, events, err := s.repo.CreateEntriesWithSeed(ctx, params, repository.SeedEvent{
		StageName:  s.defaultStage,
		Actor:      actor,
		OccurredAt: domain.FormatTimestamp(s.now()),
		Note:       copySeedNote,
	})
	if err != nil {
		return nil, s.storeErr(op, "entries", err)
	}
	s.metrics.AddEventsAppended(len(events))
	return entries, nil
}

// AddCandidates places candidates on a requisition's list. New entries have
// no events and resolve to the default stage.
func (s *Service) AddCandidates(ctx context.Context, requisitionID uuid.UUID, candidateIDs []uuid.UUID, listType string) (entries []domain.Entry, err error) {
	const op = "pipeline.AddCandidates"
	defer s.observe("AddCandidates", time.Now(), &err)

	if err := s.validateIDs(candidateIDs, "candidate"); err != nil {
		return nil, err
	}
	existing, err := s.requisitionEntries(ctx, op, requisitionID)
	if err != nil {
		return nil, err
	}

	params := make([]repository.CreateEntryParams, 0, len(candidateIDs))
	for i, id := range candidateIDs {
		params = append(params, repository.CreateEntryParams{
			RequisitionID: requisitionID,
			CandidateID:   id,
			Rank:          len(existing) + i,
			ListType:      strings.TrimSpace(listType),
		})
	}
	entries, err = s.repo.CreateEntries(ctx, params)
	if err != nil {
		return nil, s.storeErr(op, "candidate", err)
	}
	return entries, nil
}

// CreateRequisition opens a new requisition.
func (s *Service) CreateRequisition(ctx context.Context, title string) (domain.Requisition, error) {
	const op = "pipeline.CreateRequisition"
	title = sanitize.Text(title)
	if title == "" {
		return domain.Requisition{}, apperr.Validation("title is required").WithOp(op)
	}
	req, err := s.repo.CreateRequisition(ctx, title)
	if err != nil {
		return domain.Requisition{}, s.storeErr(op, "requisition", err)
	}
	return req, nil
}
