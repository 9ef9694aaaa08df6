//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/migrations"
	"ats_backend/platform/config"
	"ats_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresRepositorySuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	repo      *repository.Repository
	req       domain.Requisition
}

func TestPostgresRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRepositorySuite))
}

func (s *PostgresRepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ats"),
		tcpostgres.WithUsername("ats"),
		tcpostgres.WithPassword("ats"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err, "start postgres container")
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = db.NewPool(s.ctx, &config.Config{DatabaseURL: dsn})
	s.Require().NoError(err)
	s.Require().NoError(db.RunMigrations(s.ctx, s.pool, migrations.FS))

	s.repo = repository.New(s.pool)
}

func (s *PostgresRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *PostgresRepositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE requisitions, candidates, stage_definitions CASCADE`)
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, `UPDATE id_sequences SET value = 0 WHERE name = 'stage_events'`)
	s.Require().NoError(err)

	s.req, err = s.repo.CreateRequisition(s.ctx, "Backend Engineer")
	s.Require().NoError(err)
}

func (s *PostgresRepositorySuite) candidate(name string, experience ...domain.ExperienceRecord) domain.CandidateIdentity {
	c, err := s.repo.CreateCandidate(s.ctx, repository.CreateCandidateParams{Name: name, Experience: experience})
	s.Require().NoError(err)
	return c
}

func (s *PostgresRepositorySuite) entry(name string) domain.Entry {
	c := s.candidate(name)
	entries, err := s.repo.CreateEntries(s.ctx, []repository.CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: c.ID}})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	return entries[0]
}

func (s *PostgresRepositorySuite) TestConcurrentAppendsGetDisjointContiguousBlocks() {
	a, b := s.entry("Ada Lovelace"), s.entry("Alan Turing")
	const writers = 16
	const perWrite = 3

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		blocks [][]domain.StageEvent
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := a.ID
			if i%2 == 1 {
				target = b.ID
			}
			evs, err := s.repo.AppendEvents(s.ctx, []repository.NewEvent{
				{EntryID: target, StageName: "Screening", Actor: "r1", OccurredAt: "2024-01-01T00:00:00Z"},
				{EntryID: target, StageName: "Interview", Actor: "r1", OccurredAt: "2024-01-02T00:00:00Z"},
				{EntryID: target, StageName: "Offer", Actor: "r1", OccurredAt: "2024-01-03T00:00:00Z"},
			})
			s.NoError(err)
			mu.Lock()
			blocks = append(blocks, evs)
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Require().Len(blocks, writers)
	seen := make(map[int64]bool)
	for _, block := range blocks {
		s.Require().Len(block, perWrite)
		for i, ev := range block {
			s.Equal(block[0].LogID+int64(i), ev.LogID, "block is not contiguous")
			s.False(seen[ev.LogID], "log id %d handed out twice", ev.LogID)
			seen[ev.LogID] = true
		}
	}

	events, err := s.repo.ListEvents(s.ctx, []uuid.UUID{a.ID, b.ID})
	s.Require().NoError(err)
	s.Len(events[a.ID], writers/2*perWrite)
	s.Len(events[b.ID], writers/2*perWrite)
}

func (s *PostgresRepositorySuite) TestAppendToUnknownEntryConsumesNothing() {
	e := s.entry("Grace Hopper")
	_, err := s.repo.AppendEvents(s.ctx, []repository.NewEvent{
		{EntryID: e.ID, StageName: "Screening", Actor: "r1", OccurredAt: "2024-01-01T00:00:00Z"},
		{EntryID: uuid.New(), StageName: "Screening", Actor: "r1", OccurredAt: "2024-01-01T00:00:00Z"},
	})
	s.ErrorIs(err, repository.ErrNotFound)

	next, err := s.repo.AppendEvents(s.ctx, []repository.NewEvent{
		{EntryID: e.ID, StageName: "Screening", Actor: "r1", OccurredAt: "2024-01-01T00:00:00Z"},
	})
	s.Require().NoError(err)
	s.Equal(int64(1), next[0].LogID)
}

func (s *PostgresRepositorySuite) TestCreateEntriesWithSeedAndCascadingDelete() {
	first, second := s.candidate("Ken Thompson"), s.candidate("Dennis Ritchie")
	entries, events, err := s.repo.CreateEntriesWithSeed(s.ctx,
		[]repository.CreateEntryParams{
			{RequisitionID: s.req.ID, CandidateID: first.ID, Rank: 2, ListType: "longlist"},
			{RequisitionID: s.req.ID, CandidateID: second.ID},
		},
		repository.SeedEvent{StageName: domain.DefaultStage, Actor: "r2", OccurredAt: "2024-02-01T09:00:00Z", Note: "copied"},
	)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Require().Len(events, 2)
	s.Equal(events[0].LogID+1, events[1].LogID)
	s.Equal(entries[0].ID, events[0].EntryID)
	s.Equal("longlist", entries[0].ListType)
	s.Equal(domain.ListTypePipeline, entries[1].ListType)

	stored, err := s.repo.ListEvents(s.ctx, []uuid.UUID{entries[0].ID})
	s.Require().NoError(err)
	s.Require().Len(stored[entries[0].ID], 1)
	s.Equal("2024-02-01T09:00:00Z", stored[entries[0].ID][0].OccurredAt)

	removed, err := s.repo.DeleteEntries(s.ctx, []uuid.UUID{entries[0].ID, uuid.New()})
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.repo.GetEntry(s.ctx, entries[0].ID)
	s.ErrorIs(err, repository.ErrNotFound)
	stored, err = s.repo.ListEvents(s.ctx, []uuid.UUID{entries[0].ID, entries[1].ID})
	s.Require().NoError(err)
	s.Empty(stored[entries[0].ID])
	s.Len(stored[entries[1].ID], 1)
}

func (s *PostgresRepositorySuite) TestEntryPairIsUnique() {
	c := s.candidate("Barbara Liskov")
	_, err := s.repo.CreateEntries(s.ctx, []repository.CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: c.ID}})
	s.Require().NoError(err)

	_, err = s.repo.CreateEntries(s.ctx, []repository.CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: c.ID}})
	s.ErrorIs(err, repository.ErrEntryExists)

	_, _, err = s.repo.CreateEntriesWithSeed(s.ctx,
		[]repository.CreateEntryParams{{RequisitionID: s.req.ID, CandidateID: c.ID}},
		repository.SeedEvent{StageName: domain.DefaultStage, Actor: "r1", OccurredAt: "2024-02-01T09:00:00Z"},
	)
	s.ErrorIs(err, repository.ErrEntryExists)

	entries, err := s.repo.ListEntriesByRequisition(s.ctx, s.req.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)

	_, err = s.repo.CreateEntries(s.ctx, []repository.CreateEntryParams{{RequisitionID: uuid.New(), CandidateID: c.ID}})
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *PostgresRepositorySuite) TestFindIdentityCandidatesFoldsAccentsAndRanksExactName() {
	exact := s.candidate("José  Müller")
	for i := range 30 {
		s.candidate(fmt.Sprintf("Person%d Muller", i))
	}

	found, err := s.repo.FindIdentityCandidates(s.ctx, repository.CoarseQuery{
		NameToken: "muller",
		FullName:  "JOSE MULLER",
		Limit:     25,
	})
	s.Require().NoError(err)
	s.Require().Len(found, 25)
	s.Equal(exact.ID, found[0].ID)

	linked, err := s.repo.CreateCandidate(s.ctx, repository.CreateCandidateParams{
		Name:        "J. M.",
		ProfileLink: "https://www.LinkedIn.com/in/JMueller_1",
	})
	s.Require().NoError(err)
	found, err = s.repo.FindIdentityCandidates(s.ctx, repository.CoarseQuery{LinkFragment: "/in/jmueller_1"})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(linked.ID, found[0].ID)

	found, err = s.repo.FindIdentityCandidates(s.ctx, repository.CoarseQuery{LinkFragment: "/in/jmueller%1"})
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *PostgresRepositorySuite) TestFacetQueries() {
	a := s.candidate("Ada", domain.ExperienceRecord{Company: "Initech", Country: "NL"}, domain.ExperienceRecord{Company: "Globex", Country: "DE"})
	b := s.candidate("Bob", domain.ExperienceRecord{Company: "Initrode", Country: "NL"})

	ids, err := s.repo.CandidatesMatching(s.ctx, domain.FacetCountry, []string{"NL"})
	s.Require().NoError(err)
	s.ElementsMatch([]uuid.UUID{a.ID, b.ID}, ids)

	values, err := s.repo.DistinctValues(s.ctx, domain.FacetCompany, repository.ValueQuery{Prefix: "ini"})
	s.Require().NoError(err)
	s.Equal([]string{"Initech", "Initrode"}, values)

	values, err = s.repo.DistinctValues(s.ctx, domain.FacetCompany, repository.ValueQuery{Scoped: true, Population: []uuid.UUID{b.ID}})
	s.Require().NoError(err)
	s.Equal([]string{"Initrode"}, values)

	values, err = s.repo.DistinctValues(s.ctx, domain.FacetCompany, repository.ValueQuery{Scoped: true})
	s.Require().NoError(err)
	s.Empty(values)
}

func (s *PostgresRepositorySuite) TestStageCatalogUpsert() {
	s.Require().NoError(s.repo.UpsertStages(s.ctx, []domain.StageDefinition{
		{Name: "Offer", Order: 3},
		{Name: domain.DefaultStage, Order: domain.UnorderedStage},
		{Name: "Screening", Order: 1},
	}))
	s.Require().NoError(s.repo.UpsertStages(s.ctx, []domain.StageDefinition{{Name: "Offer", Order: 3, Terminal: true}}))

	stages, err := s.repo.ListStages(s.ctx)
	s.Require().NoError(err)
	names := make([]string, 0, len(stages))
	for _, st := range stages {
		names = append(names, st.Name)
	}
	s.Equal([]string{domain.DefaultStage, "Screening", "Offer"}, names)
	i := slices.IndexFunc(stages, func(st domain.StageDefinition) bool { return st.Name == "Offer" })
	s.True(stages[i].Terminal)
}
