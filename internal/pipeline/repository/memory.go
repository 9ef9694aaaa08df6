package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/platform/normalize"

	"github.com/google/uuid"
)

// maxAllocAttempts bounds the compare-and-swap retries of log id allocation.
const maxAllocAttempts = 8

// MemoryRepository is an in-process PipelineRepository used for STORE_DRIVER=memory
// and in tests. It is safe for concurrent use.
type MemoryRepository struct {
	mu           sync.RWMutex
	lastLogID    atomic.Int64
	clock        func() time.Time
	entries      map[uuid.UUID]domain.Entry
	events       map[uuid.UUID][]domain.StageEvent
	logIDs       map[int64]struct{}
	stages       map[string]domain.StageDefinition
	requisitions map[uuid.UUID]domain.Requisition
	candidates   map[uuid.UUID]memoryCandidate
}

type memoryCandidate struct {
	identity   domain.CandidateIdentity
	experience []domain.ExperienceRecord
	createdAt  time.Time
}

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithClock overrides the clock used for created_at values.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryRepository) { m.clock = clock }
}

func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	m := &MemoryRepository{
		clock:        time.Now,
		entries:      make(map[uuid.UUID]domain.Entry),
		events:       make(map[uuid.UUID][]domain.StageEvent),
		logIDs:       make(map[int64]struct{}),
		stages:       make(map[string]domain.StageDefinition),
		requisitions: make(map[uuid.UUID]domain.Requisition),
		candidates:   make(map[uuid.UUID]memoryCandidate),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// allocateLogIDs reserves n consecutive ids and returns the first.
func (m *MemoryRepository) allocateLogIDs(n int) (int64, error) {
	for range maxAllocAttempts {
		last := m.lastLogID.Load()
		if m.lastLogID.CompareAndSwap(last, last+int64(n)) {
			return last + 1, nil
		}
	}
	return 0, ErrIDConflict
}

// raiseLogID moves the sequence forward to at least id.
func (m *MemoryRepository) raiseLogID(id int64) {
	for {
		last := m.lastLogID.Load()
		if last >= id || m.lastLogID.CompareAndSwap(last, id) {
			return
		}
	}
}

func sortEntries(entries []domain.Entry) {
	slices.SortFunc(entries, func(a, b domain.Entry) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

// =====================================
// Entries
// =====================================

func (m *MemoryRepository) GetEntry(ctx context.Context, id uuid.UUID) (domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryRepository) ListEntries(ctx context.Context, ids []uuid.UUID) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]domain.Entry, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryRepository) ListEntriesByRequisition(ctx context.Context, requisitionID uuid.UUID) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Entry, 0)
	for _, e := range m.entries {
		if e.RequisitionID == requisitionID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryRepository) ListEntriesByCandidates(ctx context.Context, requisitionID uuid.UUID, candidateIDs []uuid.UUID) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Entry, 0)
	for _, e := range m.entries {
		if e.RequisitionID == requisitionID && slices.Contains(candidateIDs, e.CandidateID) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// buildEntries validates references and materializes entries; caller holds the write lock.
func (m *MemoryRepository) buildEntries(params []CreateEntryParams) ([]domain.Entry, error) {
	type pair struct{ requisition, candidate uuid.UUID }

	taken := make(map[pair]struct{}, len(m.entries))
	for _, e := range m.entries {
		taken[pair{e.RequisitionID, e.CandidateID}] = struct{}{}
	}

	now := m.clock()
	entries := make([]domain.Entry, 0, len(params))
	for _, p := range params {
		if _, ok := m.requisitions[p.RequisitionID]; !ok {
			return nil, ErrNotFound
		}
		if _, ok := m.candidates[p.CandidateID]; !ok {
			return nil, ErrNotFound
		}
		key := pair{p.RequisitionID, p.CandidateID}
		if _, dup := taken[key]; dup {
			return nil, ErrEntryExists
		}
		taken[key] = struct{}{}
		entries = append(entries, domain.Entry{
			ID:            uuid.New(),
			RequisitionID: p.RequisitionID,
			CandidateID:   p.CandidateID,
			FallbackStage: p.FallbackStage,
			Rank:          p.Rank,
			ListType:      listTypeOrDefault(p.ListType),
			CreatedAt:     now,
		})
	}
	return entries, nil
}

func (m *MemoryRepository) CreateEntries(ctx context.Context, params []CreateEntryParams) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.buildEntries(params)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return entries, nil
}

func (m *MemoryRepository) CreateEntriesWithSeed(ctx context.Context, params []CreateEntryParams, seed SeedEvent) ([]domain.Entry, []domain.StageEvent, error) {
	if len(params) == 0 {
		return nil, nil, nil
	}
	first, err := m.allocateLogIDs(len(params))
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.buildEntries(params)
	if err != nil {
		return nil, nil, err
	}

	events := make([]domain.StageEvent, 0, len(entries))
	for i, e := range entries {
		events = append(events, domain.StageEvent{
			LogID:      first + int64(i),
			EntryID:    e.ID,
			StageName:  seed.StageName,
			Actor:      seed.Actor,
			OccurredAt: seed.OccurredAt,
			Note:       seed.Note,
		})
	}
	if err := m.checkLogIDs(events); err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	m.storeEvents(events)
	return entries, events, nil
}

func (m *MemoryRepository) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.entries[id]; !ok {
			continue
		}
		for _, ev := range m.events[id] {
			delete(m.logIDs, ev.LogID)
		}
		delete(m.events, id)
		delete(m.entries, id)
		removed++
	}
	return removed, nil
}

// =====================================
// Events
// =====================================

func (m *MemoryRepository) ListEvents(ctx context.Context, entryIDs []uuid.UUID) (map[uuid.UUID][]domain.StageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID][]domain.StageEvent, len(entryIDs))
	for _, id := range entryIDs {
		if evs, ok := m.events[id]; ok {
			out[id] = slices.Clone(evs)
		}
	}
	return out, nil
}

func (m *MemoryRepository) AppendEvents(ctx context.Context, events []NewEvent) ([]domain.StageEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	first, err := m.allocateLogIDs(len(events))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]domain.StageEvent, 0, len(events))
	for i, ev := range events {
		if _, ok := m.entries[ev.EntryID]; !ok {
			return nil, ErrNotFound
		}
		stored = append(stored, domain.StageEvent{
			LogID:      first + int64(i),
			EntryID:    ev.EntryID,
			StageName:  ev.StageName,
			Actor:      ev.Actor,
			OccurredAt: ev.OccurredAt,
			Note:       ev.Note,
		})
	}
	if err := m.checkLogIDs(stored); err != nil {
		return nil, err
	}
	m.storeEvents(stored)
	return stored, nil
}

// ImportEvents stores events with the log ids they already carry, such as
// rows migrated from a legacy log. The sequence is advanced past them.
func (m *MemoryRepository) ImportEvents(ctx context.Context, events []domain.StageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if _, ok := m.entries[ev.EntryID]; !ok {
			return ErrNotFound
		}
	}
	if err := m.checkLogIDs(events); err != nil {
		return err
	}
	m.storeEvents(events)
	for _, ev := range events {
		m.raiseLogID(ev.LogID)
	}
	return nil
}

func (m *MemoryRepository) checkLogIDs(events []domain.StageEvent) error {
	for _, ev := range events {
		if _, taken := m.logIDs[ev.LogID]; taken {
			return ErrIDConflict
		}
	}
	return nil
}

func (m *MemoryRepository) storeEvents(events []domain.StageEvent) {
	for _, ev := range events {
		m.logIDs[ev.LogID] = struct{}{}
		m.events[ev.EntryID] = append(m.events[ev.EntryID], ev)
	}
}

// =====================================
// Stages
// =====================================

func (m *MemoryRepository) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stages := make([]domain.StageDefinition, 0, len(m.stages))
	for _, s := range m.stages {
		stages = append(stages, s)
	}
	return domain.SortStages(stages), nil
}

func (m *MemoryRepository) UpsertStages(ctx context.Context, stages []domain.StageDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stages {
		m.stages[s.Name] = s
	}
	return nil
}

// =====================================
// Requisitions
// =====================================

func (m *MemoryRepository) CreateRequisition(ctx context.Context, title string) (domain.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := domain.Requisition{ID: uuid.New(), Title: title, CreatedAt: m.clock()}
	m.requisitions[req.ID] = req
	return req, nil
}

func (m *MemoryRepository) GetRequisition(ctx context.Context, id uuid.UUID) (domain.Requisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requisitions[id]
	if !ok {
		return domain.Requisition{}, ErrNotFound
	}
	return req, nil
}

// =====================================
// Candidates
// =====================================

func (m *MemoryRepository) CreateCandidate(ctx context.Context, params CreateCandidateParams) (domain.CandidateIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.CandidateIdentity{ID: uuid.New(), Name: params.Name, ProfileLink: params.ProfileLink}
	experience := make([]domain.ExperienceRecord, 0, len(params.Experience))
	for _, x := range params.Experience {
		x.CandidateID = c.ID
		experience = append(experience, x)
	}
	m.candidates[c.ID] = memoryCandidate{identity: c, experience: experience, createdAt: m.clock()}
	return c, nil
}

func (m *MemoryRepository) GetCandidate(ctx context.Context, id uuid.UUID) (domain.CandidateIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.candidates[id]
	if !ok {
		return domain.CandidateIdentity{}, ErrNotFound
	}
	return c.identity, nil
}

func (m *MemoryRepository) FindIdentityCandidates(ctx context.Context, query CoarseQuery) ([]domain.CandidateIdentity, error) {
	nameToken := normalize.Name(query.NameToken)
	fullName := normalize.Name(query.FullName)
	linkFragment := strings.ToLower(strings.TrimSpace(query.LinkFragment))
	if nameToken == "" && linkFragment == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}

	type ranked struct {
		memoryCandidate
		rank int
	}

	m.mu.RLock()
	matches := make([]ranked, 0)
	for _, c := range m.candidates {
		name := normalize.Name(c.identity.Name)
		nameHit := nameToken != "" && strings.Contains(name, nameToken)
		linkHit := linkFragment != "" && strings.Contains(strings.ToLower(c.identity.ProfileLink), linkFragment)
		switch {
		case nameHit && fullName != "" && name == fullName:
			matches = append(matches, ranked{c, 0})
		case linkHit:
			matches = append(matches, ranked{c, 1})
		case nameHit:
			matches = append(matches, ranked{c, 2})
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matches, func(a, b ranked) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return b.createdAt.Compare(a.createdAt)
	})
	out := make([]domain.CandidateIdentity, 0, min(limit, len(matches)))
	for _, c := range matches[:min(limit, len(matches))] {
		out = append(out, c.identity)
	}
	return out, nil
}

// =====================================
// Facets
// =====================================

func facetValue(x domain.ExperienceRecord, facet domain.Facet) string {
	switch facet {
	case domain.FacetCompany:
		return x.Company
	case domain.FacetPosition:
		return x.Position
	case domain.FacetCountry:
		return x.Country
	case domain.FacetIndustry:
		return x.Industry
	case domain.FacetCorporateGroup:
		return x.CorporateGroup
	}
	return ""
}

func (m *MemoryRepository) CandidatesMatching(ctx context.Context, facet domain.Facet, values []string) ([]uuid.UUID, error) {
	if _, err := facetColumn(facet); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0)
	for id, c := range m.candidates {
		for _, x := range c.experience {
			if slices.Contains(values, facetValue(x, facet)) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryRepository) DistinctValues(ctx context.Context, facet domain.Facet, query ValueQuery) ([]string, error) {
	if _, err := facetColumn(facet); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}
	prefix := strings.ToLower(strings.TrimSpace(query.Prefix))

	m.mu.RLock()
	seen := make(map[string]struct{})
	for id, c := range m.candidates {
		if query.Scoped && !slices.Contains(query.Population, id) {
			continue
		}
		for _, x := range c.experience {
			v := facetValue(x, facet)
			if v != "" && strings.HasPrefix(strings.ToLower(v), prefix) {
				seen[v] = struct{}{}
			}
		}
	}
	m.mu.RUnlock()

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	slices.Sort(values)
	return values[:min(limit, len(values))], nil
}
