// Package facets computes candidate populations from multi-valued facet
// selections over experience history and suggests values for a facet
// within the population the other facets select.
package facets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/metrics"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultQueryTimeout bounds each facet query when none is configured.
const DefaultQueryTimeout = 2 * time.Second

// ErrFacetTimeout is returned when a facet query exceeds its timeout.
var ErrFacetTimeout = errors.New("facet query timed out")

// Source answers membership and value queries for facets.
type Source interface {
	CandidatesMatching(ctx context.Context, facet domain.Facet, values []string) ([]uuid.UUID, error)
	DistinctValues(ctx context.Context, facet domain.Facet, query repository.ValueQuery) ([]string, error)
}

// Selection is the outcome of a facet intersection: either the whole
// candidate base (no facet was active) or an explicit, possibly empty, set.
type Selection struct {
	unrestricted bool
	ids          []uuid.UUID
}

// Unrestricted selects every candidate.
func Unrestricted() Selection { return Selection{unrestricted: true} }

// Of selects exactly ids.
func Of(ids []uuid.UUID) Selection {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return Selection{ids: ids}
}

func (s Selection) IsUnrestricted() bool { return s.unrestricted }

// IsEmpty reports a restricted selection with no members.
func (s Selection) IsEmpty() bool { return !s.unrestricted && len(s.ids) == 0 }

// IDs returns the selected candidates; nil when unrestricted.
func (s Selection) IDs() []uuid.UUID {
	if s.unrestricted {
		return nil
	}
	return slices.Clone(s.ids)
}

func (s Selection) Contains(id uuid.UUID) bool {
	return s.unrestricted || slices.Contains(s.ids, id)
}

// Engine runs facet queries concurrently against a Source.
type Engine struct {
	source  Source
	timeout time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

func New(source Source, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Engine {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Engine{source: source, timeout: timeout, log: log, metrics: m}
}

// Intersect returns the candidates matching every active facet. Each facet
// query runs concurrently under its own timeout; any failure fails the call.
func (e *Engine) Intersect(ctx context.Context, selection domain.FacetMap) (Selection, error) {
	active := selection.Active()
	if len(active) == 0 {
		return Unrestricted(), nil
	}

	results := make([][]uuid.UUID, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, fv := range active {
		g.Go(func() error {
			ids, err := e.matching(gctx, fv)
			if err != nil {
				return err
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, err
	}

	return Of(intersect(results)), nil
}

// Suggest lists values of target within the population selected by every
// other active facet. An empty population yields no suggestions.
func (e *Engine) Suggest(ctx context.Context, target domain.Facet, selection domain.FacetMap, prefix string, limit int) ([]string, error) {
	if !slices.Contains(domain.AllFacets, target) {
		return nil, fmt.Errorf("unknown facet %q", target)
	}

	scope, err := e.Intersect(ctx, selection.Without(target))
	if err != nil {
		return nil, err
	}
	if scope.IsEmpty() {
		return []string{}, nil
	}

	query := repository.ValueQuery{
		Scoped:     !scope.IsUnrestricted(),
		Population: scope.IDs(),
		Prefix:     prefix,
		Limit:      limit,
	}
	values, err := runWithTimeout(ctx, e.timeout, func(qctx context.Context) ([]string, error) {
		return e.source.DistinctValues(qctx, target, query)
	})
	if err != nil {
		e.recordFailure(target, err)
		return nil, fmt.Errorf("facet %s values: %w", target, err)
	}
	return values, nil
}

func (e *Engine) matching(ctx context.Context, fv domain.FacetValues) ([]uuid.UUID, error) {
	ids, err := runWithTimeout(ctx, e.timeout, func(qctx context.Context) ([]uuid.UUID, error) {
		return e.source.CandidatesMatching(qctx, fv.Facet, fv.Values)
	})
	if err != nil {
		// siblings cancelled by the group are not failures of their own
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		e.recordFailure(fv.Facet, err)
		return nil, fmt.Errorf("facet %s: %w", fv.Facet, err)
	}
	return ids, nil
}

func (e *Engine) recordFailure(facet domain.Facet, err error) {
	if e.log != nil {
		e.log.FacetQueryFailed(string(facet), err)
	}
	e.metrics.IncrementFacetFailure(string(facet), errors.Is(err, ErrFacetTimeout))
}

// runWithTimeout runs query under timeout and stops waiting once it
// expires, even if query ignores its context.
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, query func(context.Context) (T, error)) (T, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := query(qctx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrFacetTimeout, r.err)
		}
		return r.value, r.err
	case <-qctx.Done():
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrFacetTimeout, timeout, qctx.Err())
		}
		return zero, qctx.Err()
	}
}

// intersect returns the ids present in every list, sorted for stable output.
func intersect(lists [][]uuid.UUID) []uuid.UUID {
	if len(lists) == 0 {
		return []uuid.UUID{}
	}
	counts := make(map[uuid.UUID]int, len(lists[0]))
	for _, list := range lists {
		seen := make(map[uuid.UUID]struct{}, len(list))
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}

	out := make([]uuid.UUID, 0)
	for id, n := range counts {
		if n == len(lists) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return out
}
