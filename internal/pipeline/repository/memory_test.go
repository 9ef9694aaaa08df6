package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ats_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type MemoryRepositorySuite struct {
	suite.Suite
	ctx  context.Context
	repo *MemoryRepository
	req  domain.Requisition
	cand domain.CandidateIdentity
}

func TestMemoryRepositorySuite(t *testing.T) {
	suite.Run(t, new(MemoryRepositorySuite))
}

func (s *MemoryRepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = NewMemoryRepository()

	var err error
	s.req, err = s.repo.CreateRequisition(s.ctx, "Backend Engineer")
	s.Require().NoError(err)
	s.cand, err = s.repo.CreateCandidate(s.ctx, CreateCandidateParams{
		Name:        "José Müller",
		ProfileLink: "https://www.linkedin.com/in/jmueller",
		Experience: []domain.ExperienceRecord{
			{Company: "C1", Country: "DE", Industry: "Software"},
			{Company: "C2", Country: "AT", Industry: "Consulting"},
		},
	})
	s.Require().NoError(err)
}

// newEntry puts a fresh candidate on the suite's requisition.
func (s *MemoryRepositorySuite) newEntry() domain.Entry {
	c, err := s.repo.CreateCandidate(s.ctx, CreateCandidateParams{Name: "Candidate " + uuid.NewString()[:8]})
	s.Require().NoError(err)
	entries, err := s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: c.ID}})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	return entries[0]
}

func (s *MemoryRepositorySuite) TestCreateEntriesRejectsUnknownReferences() {
	_, err := s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: uuid.New(), CandidateID: s.cand.ID}})
	s.ErrorIs(err, ErrNotFound)

	_, err = s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: uuid.New()}})
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryRepositorySuite) TestCreateEntriesDefaultsListType() {
	e := s.newEntry()
	s.Equal(domain.ListTypePipeline, e.ListType)
}

func (s *MemoryRepositorySuite) TestAppendEventsAssignsContiguousBlock() {
	a, b, c := s.newEntry(), s.newEntry(), s.newEntry()

	first, err := s.repo.AppendEvents(s.ctx, []NewEvent{{EntryID: a.ID, StageName: "Screening", Actor: "r1"}})
	s.Require().NoError(err)

	block, err := s.repo.AppendEvents(s.ctx, []NewEvent{
		{EntryID: a.ID, StageName: "Interview", Actor: "r1"},
		{EntryID: b.ID, StageName: "Interview", Actor: "r1"},
		{EntryID: c.ID, StageName: "Interview", Actor: "r1"},
	})
	s.Require().NoError(err)
	s.Require().Len(block, 3)
	for i, ev := range block {
		s.Equal(first[0].LogID+1+int64(i), ev.LogID)
	}
}

func (s *MemoryRepositorySuite) TestAppendEventsUnknownEntryWritesNothing() {
	a := s.newEntry()
	_, err := s.repo.AppendEvents(s.ctx, []NewEvent{
		{EntryID: a.ID, StageName: "Screening", Actor: "r1"},
		{EntryID: uuid.New(), StageName: "Screening", Actor: "r1"},
	})
	s.ErrorIs(err, ErrNotFound)

	events, err := s.repo.ListEvents(s.ctx, []uuid.UUID{a.ID})
	s.Require().NoError(err)
	s.Empty(events[a.ID])
}

func (s *MemoryRepositorySuite) TestConcurrentAppendsNeverShareLogIDs() {
	entry := s.newEntry()
	const writers = 16

	var wg sync.WaitGroup
	results := make(chan domain.StageEvent, writers*2)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evs, err := s.repo.AppendEvents(s.ctx, []NewEvent{
				{EntryID: entry.ID, StageName: "A", Actor: "r"},
				{EntryID: entry.ID, StageName: "B", Actor: "r"},
			})
			if err == nil {
				for _, ev := range evs {
					results <- ev
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for ev := range results {
		s.False(seen[ev.LogID], "log id %d reused", ev.LogID)
		seen[ev.LogID] = true
	}
	s.NotEmpty(seen)
}

func (s *MemoryRepositorySuite) TestCreateEntriesWithSeed() {
	other, err := s.repo.CreateCandidate(s.ctx, CreateCandidateParams{Name: "Grace Hopper"})
	s.Require().NoError(err)
	entries, events, err := s.repo.CreateEntriesWithSeed(s.ctx,
		[]CreateEntryParams{
			{RequisitionID: s.req.ID, CandidateID: s.cand.ID},
			{RequisitionID: s.req.ID, CandidateID: other.ID},
		},
		SeedEvent{StageName: domain.DefaultStage, Actor: "system", OccurredAt: "2024-01-01T00:00:00Z"},
	)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Require().Len(events, 2)
	s.Equal(events[0].LogID+1, events[1].LogID)
	s.Equal(entries[1].ID, events[1].EntryID)
	s.Equal(domain.DefaultStage, events[0].StageName)
}

func (s *MemoryRepositorySuite) TestOneEntryPerCandidateAndRequisition() {
	first, err := s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: s.cand.ID}})
	s.Require().NoError(err)

	_, err = s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: s.cand.ID}})
	s.ErrorIs(err, ErrEntryExists)

	_, _, err = s.repo.CreateEntriesWithSeed(s.ctx,
		[]CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: s.cand.ID}},
		SeedEvent{StageName: domain.DefaultStage, Actor: "system"},
	)
	s.ErrorIs(err, ErrEntryExists)

	other, err := s.repo.CreateRequisition(s.ctx, "Frontend Engineer")
	s.Require().NoError(err)
	_, err = s.repo.CreateEntries(s.ctx, []CreateEntryParams{
		{RequisitionID: other.ID, CandidateID: s.cand.ID},
		{RequisitionID: other.ID, CandidateID: s.cand.ID},
	})
	s.ErrorIs(err, ErrEntryExists)

	entries, err := s.repo.ListEntriesByRequisition(s.ctx, s.req.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(first[0].ID, entries[0].ID)
	entries, err = s.repo.ListEntriesByRequisition(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Empty(entries)

	removed, err := s.repo.DeleteEntries(s.ctx, []uuid.UUID{first[0].ID})
	s.Require().NoError(err)
	s.Equal(1, removed)
	_, err = s.repo.CreateEntries(s.ctx, []CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: s.cand.ID}})
	s.NoError(err)
}

func (s *MemoryRepositorySuite) TestDeleteEntriesCascades() {
	a, b := s.newEntry(), s.newEntry()
	_, err := s.repo.AppendEvents(s.ctx, []NewEvent{{EntryID: a.ID, StageName: "A", Actor: "r"}})
	s.Require().NoError(err)

	removed, err := s.repo.DeleteEntries(s.ctx, []uuid.UUID{a.ID, uuid.New()})
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.repo.GetEntry(s.ctx, a.ID)
	s.ErrorIs(err, ErrNotFound)
	events, err := s.repo.ListEvents(s.ctx, []uuid.UUID{a.ID})
	s.Require().NoError(err)
	s.Empty(events)

	_, err = s.repo.GetEntry(s.ctx, b.ID)
	s.NoError(err)
}

func (s *MemoryRepositorySuite) TestImportEventsAdvancesSequence() {
	e := s.newEntry()
	err := s.repo.ImportEvents(s.ctx, []domain.StageEvent{
		{LogID: 100, EntryID: e.ID, StageName: "Legacy", Actor: "import", OccurredAt: "12.03.2019"},
	})
	s.Require().NoError(err)

	err = s.repo.ImportEvents(s.ctx, []domain.StageEvent{{LogID: 100, EntryID: e.ID, StageName: "Dup"}})
	s.ErrorIs(err, ErrIDConflict)

	next, err := s.repo.AppendEvents(s.ctx, []NewEvent{{EntryID: e.ID, StageName: "A", Actor: "r"}})
	s.Require().NoError(err)
	s.Equal(int64(101), next[0].LogID)
}

func (s *MemoryRepositorySuite) TestFindIdentityCandidatesIgnoresCaseAndAccents() {
	found, err := s.repo.FindIdentityCandidates(s.ctx, CoarseQuery{NameToken: "JOSE"})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(s.cand.ID, found[0].ID)

	found, err = s.repo.FindIdentityCandidates(s.ctx, CoarseQuery{LinkFragment: "in/JMUELLER"})
	s.Require().NoError(err)
	s.Len(found, 1)

	found, err = s.repo.FindIdentityCandidates(s.ctx, CoarseQuery{})
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *MemoryRepositorySuite) TestFindIdentityCandidatesRanksExactNameFirst() {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository(WithClock(func() time.Time { return now }))
	exact, err := repo.CreateCandidate(s.ctx, CreateCandidateParams{Name: "Jane Doe"})
	s.Require().NoError(err)
	for i := range 5 {
		now = now.Add(time.Hour)
		_, err := repo.CreateCandidate(s.ctx, CreateCandidateParams{Name: fmt.Sprintf("Other%d Doe", i)})
		s.Require().NoError(err)
	}
	now = now.Add(time.Hour)
	linked, err := repo.CreateCandidate(s.ctx, CreateCandidateParams{Name: "Someone", ProfileLink: "https://linkedin.com/in/janedoe"})
	s.Require().NoError(err)

	found, err := repo.FindIdentityCandidates(s.ctx, CoarseQuery{NameToken: "doe", FullName: "JANE  DOE", LinkFragment: "/in/janedoe", Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(found, 2)
	s.Equal(exact.ID, found[0].ID)
	s.Equal(linked.ID, found[1].ID)

	found, err = repo.FindIdentityCandidates(s.ctx, CoarseQuery{NameToken: "doe", Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("Other4 Doe", found[0].Name)
}

func (s *MemoryRepositorySuite) TestFacetQueries() {
	other, err := s.repo.CreateCandidate(s.ctx, CreateCandidateParams{
		Name:       "Ada",
		Experience: []domain.ExperienceRecord{{Company: "C3", Country: "DE"}},
	})
	s.Require().NoError(err)

	ids, err := s.repo.CandidatesMatching(s.ctx, domain.FacetCountry, []string{"DE"})
	s.Require().NoError(err)
	s.ElementsMatch(ids, []uuid.UUID{s.cand.ID, other.ID})

	values, err := s.repo.DistinctValues(s.ctx, domain.FacetCompany, ValueQuery{})
	s.Require().NoError(err)
	s.Equal([]string{"C1", "C2", "C3"}, values)

	values, err = s.repo.DistinctValues(s.ctx, domain.FacetCompany, ValueQuery{Scoped: true, Population: []uuid.UUID{other.ID}})
	s.Require().NoError(err)
	s.Equal([]string{"C3"}, values)

	values, err = s.repo.DistinctValues(s.ctx, domain.FacetIndustry, ValueQuery{Prefix: "soft"})
	s.Require().NoError(err)
	s.Equal([]string{"Software"}, values)

	_, err = s.repo.CandidatesMatching(s.ctx, domain.Facet("salary"), []string{"x"})
	s.Error(err)
}

func (s *MemoryRepositorySuite) TestListStagesSorted() {
	s.Require().NoError(s.repo.UpsertStages(s.ctx, []domain.StageDefinition{
		{Name: "Offer", Order: 3},
		{Name: domain.DefaultStage, Order: domain.UnorderedStage},
		{Name: "Screening", Order: 1},
	}))
	stages, err := s.repo.ListStages(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.DefaultStage, stages[0].Name)
	s.Equal("Offer", stages[2].Name)
}
