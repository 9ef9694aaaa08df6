package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/platform/normalize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	eventSequenceName  = "stage_events"
	eventPrimaryKey    = "stage_events_pkey"
	entryPairKey       = "pipeline_entries_requisition_candidate_key"
	defaultLookupLimit = 50

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository is the Postgres-backed PipelineRepository.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// mapWriteError translates constraint violations into repository sentinels.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == eventPrimaryKey:
		return fmt.Errorf("%w: %s", ErrIDConflict, pgErr.Detail)
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == entryPairKey:
		return fmt.Errorf("%w: %s", ErrEntryExists, pgErr.Detail)
	case pgErr.Code == pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

// =====================================
// Entries
// =====================================

const entryColumns = `id, requisition_id, candidate_id, fallback_stage, rank, list_type, created_at`

func scanEntry(row pgx.Row) (domain.Entry, error) {
	var e domain.Entry
	err := row.Scan(&e.ID, &e.RequisitionID, &e.CandidateID, &e.FallbackStage, &e.Rank, &e.ListType, &e.CreatedAt)
	return e, err
}

func collectEntries(rows pgx.Rows) ([]domain.Entry, error) {
	defer rows.Close()
	entries := make([]domain.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (domain.Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM pipeline_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, ErrNotFound
	}
	return e, err
}

func (r *Repository) ListEntries(ctx context.Context, ids []uuid.UUID) ([]domain.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM pipeline_entries
		WHERE id = ANY($1::uuid[])
		ORDER BY rank ASC, created_at ASC, id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *Repository) ListEntriesByRequisition(ctx context.Context, requisitionID uuid.UUID) ([]domain.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM pipeline_entries
		WHERE requisition_id = $1
		ORDER BY rank ASC, created_at ASC, id ASC
	`, requisitionID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *Repository) ListEntriesByCandidates(ctx context.Context, requisitionID uuid.UUID, candidateIDs []uuid.UUID) ([]domain.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM pipeline_entries
		WHERE requisition_id = $1 AND candidate_id = ANY($2::uuid[])
		ORDER BY rank ASC, created_at ASC, id ASC
	`, requisitionID, candidateIDs)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func insertEntries(ctx context.Context, tx pgx.Tx, params []CreateEntryParams) ([]domain.Entry, error) {
	batch := &pgx.Batch{}
	for _, p := range params {
		batch.Queue(`
			INSERT INTO pipeline_entries (id, requisition_id, candidate_id, fallback_stage, rank, list_type)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+entryColumns,
			uuid.New(), p.RequisitionID, p.CandidateID, p.FallbackStage, p.Rank, listTypeOrDefault(p.ListType))
	}

	results := tx.SendBatch(ctx, batch)
	entries := make([]domain.Entry, 0, len(params))
	for range params {
		e, err := scanEntry(results.QueryRow())
		if err != nil {
			_ = results.Close()
			return nil, mapWriteError(err)
		}
		entries = append(entries, e)
	}
	if err := results.Close(); err != nil {
		return nil, mapWriteError(err)
	}
	return entries, nil
}

func (r *Repository) CreateEntries(ctx context.Context, params []CreateEntryParams) ([]domain.Entry, error) {
	if len(params) == 0 {
		return nil, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entries, err := insertEntries(ctx, tx, params)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) CreateEntriesWithSeed(ctx context.Context, params []CreateEntryParams, seed SeedEvent) ([]domain.Entry, []domain.StageEvent, error) {
	if len(params) == 0 {
		return nil, nil, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entries, err := insertEntries(ctx, tx, params)
	if err != nil {
		return nil, nil, err
	}

	seeds := make([]NewEvent, 0, len(entries))
	for _, e := range entries {
		seeds = append(seeds, NewEvent{
			EntryID:    e.ID,
			StageName:  seed.StageName,
			Actor:      seed.Actor,
			OccurredAt: seed.OccurredAt,
			Note:       seed.Note,
		})
	}
	events, err := appendInTx(ctx, tx, seeds)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return entries, events, nil
}

func (r *Repository) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pipeline_entries WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =====================================
// Events
// =====================================

func (r *Repository) ListEvents(ctx context.Context, entryIDs []uuid.UUID) (map[uuid.UUID][]domain.StageEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT log_id, entry_id, stage_name, actor, occurred_at, note
		FROM stage_events
		WHERE entry_id = ANY($1::uuid[])
	`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[uuid.UUID][]domain.StageEvent, len(entryIDs))
	for rows.Next() {
		var ev domain.StageEvent
		if err := rows.Scan(&ev.LogID, &ev.EntryID, &ev.StageName, &ev.Actor, &ev.OccurredAt, &ev.Note); err != nil {
			return nil, err
		}
		grouped[ev.EntryID] = append(grouped[ev.EntryID], ev)
	}
	return grouped, rows.Err()
}

func (r *Repository) AppendEvents(ctx context.Context, events []NewEvent) ([]domain.StageEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stored, err := appendInTx(ctx, tx, events)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteError(err)
	}
	return stored, nil
}

// allocateLogIDs reserves n consecutive log ids and returns the first.
// The sequence row stays locked until the transaction ends.
func allocateLogIDs(ctx context.Context, tx pgx.Tx, n int) (int64, error) {
	var last int64
	err := tx.QueryRow(ctx, `
		UPDATE id_sequences SET value = value + $2
		WHERE name = $1
		RETURNING value
	`, eventSequenceName, n).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: sequence %q missing", ErrIDConflict, eventSequenceName)
	}
	if err != nil {
		return 0, err
	}
	return last - int64(n) + 1, nil
}

func appendInTx(ctx context.Context, tx pgx.Tx, events []NewEvent) ([]domain.StageEvent, error) {
	first, err := allocateLogIDs(ctx, tx, len(events))
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	stored := make([]domain.StageEvent, 0, len(events))
	for i, ev := range events {
		se := domain.StageEvent{
			LogID:      first + int64(i),
			EntryID:    ev.EntryID,
			StageName:  ev.StageName,
			Actor:      ev.Actor,
			OccurredAt: ev.OccurredAt,
			Note:       ev.Note,
		}
		batch.Queue(`
			INSERT INTO stage_events (log_id, entry_id, stage_name, actor, occurred_at, note)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, se.LogID, se.EntryID, se.StageName, se.Actor, se.OccurredAt, se.Note)
		stored = append(stored, se)
	}

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, mapWriteError(err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, mapWriteError(err)
	}
	return stored, nil
}

// =====================================
// Stages
// =====================================

func (r *Repository) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, sort_order, is_terminal FROM stage_definitions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]domain.StageDefinition, 0)
	for rows.Next() {
		var s domain.StageDefinition
		if err := rows.Scan(&s.Name, &s.Order, &s.Terminal); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return domain.SortStages(stages), nil
}

func (r *Repository) UpsertStages(ctx context.Context, stages []domain.StageDefinition) error {
	if len(stages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range stages {
		batch.Queue(`
			INSERT INTO stage_definitions (name, sort_order, is_terminal)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE
			SET sort_order = EXCLUDED.sort_order, is_terminal = EXCLUDED.is_terminal
		`, s.Name, s.Order, s.Terminal)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range stages {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// =====================================
// Requisitions
// =====================================

func (r *Repository) CreateRequisition(ctx context.Context, title string) (domain.Requisition, error) {
	var req domain.Requisition
	err := r.pool.QueryRow(ctx, `
		INSERT INTO requisitions (id, title)
		VALUES ($1, $2)
		RETURNING id, title, created_at
	`, uuid.New(), title).Scan(&req.ID, &req.Title, &req.CreatedAt)
	return req, err
}

func (r *Repository) GetRequisition(ctx context.Context, id uuid.UUID) (domain.Requisition, error) {
	var req domain.Requisition
	err := r.pool.QueryRow(ctx, `SELECT id, title, created_at FROM requisitions WHERE id = $1`, id).
		Scan(&req.ID, &req.Title, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Requisition{}, ErrNotFound
	}
	return req, err
}

// =====================================
// Candidates
// =====================================

func (r *Repository) CreateCandidate(ctx context.Context, params CreateCandidateParams) (domain.CandidateIdentity, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.CandidateIdentity{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var c domain.CandidateIdentity
	err = tx.QueryRow(ctx, `
		INSERT INTO candidates (id, name, profile_link)
		VALUES ($1, $2, $3)
		RETURNING id, name, profile_link
	`, uuid.New(), params.Name, params.ProfileLink).Scan(&c.ID, &c.Name, &c.ProfileLink)
	if err != nil {
		return domain.CandidateIdentity{}, err
	}

	if len(params.Experience) > 0 {
		batch := &pgx.Batch{}
		for _, x := range params.Experience {
			batch.Queue(`
				INSERT INTO experience_records (candidate_id, company, position, country, industry, corporate_group, start_date)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, c.ID, x.Company, x.Position, x.Country, x.Industry, x.CorporateGroup, x.StartDate)
		}
		results := tx.SendBatch(ctx, batch)
		for range params.Experience {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return domain.CandidateIdentity{}, err
			}
		}
		if err := results.Close(); err != nil {
			return domain.CandidateIdentity{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CandidateIdentity{}, err
	}
	return c, nil
}

func (r *Repository) GetCandidate(ctx context.Context, id uuid.UUID) (domain.CandidateIdentity, error) {
	var c domain.CandidateIdentity
	err := r.pool.QueryRow(ctx, `SELECT id, name, profile_link FROM candidates WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.ProfileLink)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CandidateIdentity{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) FindIdentityCandidates(ctx context.Context, query CoarseQuery) ([]domain.CandidateIdentity, error) {
	if query.NameToken == "" && query.LinkFragment == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, profile_link
		FROM candidates
		WHERE ($1::text <> '' AND lower(ats_immutable_unaccent(name)) LIKE '%' || lower(ats_immutable_unaccent($1::text)) || '%')
		   OR ($2::text <> '' AND lower(profile_link) LIKE '%' || lower($2::text) || '%')
		ORDER BY
			($4::text <> '' AND regexp_replace(lower(ats_immutable_unaccent(btrim(name))), '[[:space:]]+', ' ', 'g') = $4::text) DESC,
			($2::text <> '' AND lower(profile_link) LIKE '%' || lower($2::text) || '%') DESC,
			created_at DESC
		LIMIT $3
	`, escapeLike(query.NameToken), escapeLike(query.LinkFragment), limit, normalize.Name(query.FullName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make([]domain.CandidateIdentity, 0)
	for rows.Next() {
		var c domain.CandidateIdentity
		if err := rows.Scan(&c.ID, &c.Name, &c.ProfileLink); err != nil {
			return nil, err
		}
		found = append(found, c)
	}
	return found, rows.Err()
}

// =====================================
// Facets
// =====================================

// facetColumns is the whitelist of experience columns facets map onto.
var facetColumns = map[domain.Facet]string{
	domain.FacetCompany:        "company",
	domain.FacetPosition:       "position",
	domain.FacetCountry:        "country",
	domain.FacetIndustry:       "industry",
	domain.FacetCorporateGroup: "corporate_group",
}

func facetColumn(facet domain.Facet) (string, error) {
	col, ok := facetColumns[facet]
	if !ok {
		return "", fmt.Errorf("unknown facet %q", facet)
	}
	return col, nil
}

func (r *Repository) CandidatesMatching(ctx context.Context, facet domain.Facet, values []string) ([]uuid.UUID, error) {
	col, err := facetColumn(facet)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT candidate_id
		FROM experience_records
		WHERE `+col+` = ANY($1::text[])
	`, values)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) DistinctValues(ctx context.Context, facet domain.Facet, query ValueQuery) ([]string, error) {
	col, err := facetColumn(facet)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}
	population := query.Population
	if population == nil {
		population = []uuid.UUID{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT `+col+`
		FROM experience_records
		WHERE `+col+` <> ''
		  AND ($1::boolean = false OR candidate_id = ANY($2::uuid[]))
		  AND `+col+` ILIKE $3::text || '%'
		ORDER BY `+col+`
		LIMIT $4
	`, query.Scoped, population, escapeLike(query.Prefix), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(strings.TrimSpace(value))
}
