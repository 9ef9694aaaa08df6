package domain

import (
	"context"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const hoursPerDay = 24

// parallelThreshold is the population size above which Aggregate fans out.
const parallelThreshold = 512

// EntityTimeline is one entry's complete event history and fallback stage.
type EntityTimeline struct {
	EntryID       uuid.UUID
	Events        []StageEvent
	FallbackStage *string
}

// Residency is one contiguous period spent in a stage.
type Residency struct {
	Stage string
	Days  float64
}

// StageStat is the funnel row for a stage that currently holds entries.
type StageStat struct {
	Stage    string  `json:"stage"`
	Order    int     `json:"order"`
	Terminal bool    `json:"terminal"`
	Count    int     `json:"count"`
	MeanDays float64 `json:"meanDays"`
	PeakDays float64 `json:"peakDays"`
}

// Funnel is the aggregate view over a population of entries.
// Unknown counts entries whose current stage has no definition;
// they are never folded into another stage.
type Funnel struct {
	Stages      []StageStat `json:"stages"`
	Unknown     int         `json:"unknown"`
	Total       int         `json:"total"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

// AggregateInput bundles what Aggregate needs.
type AggregateInput struct {
	Entities     []EntityTimeline
	Stages       []StageDefinition
	Now          time.Time
	DefaultStage string
}

// Residencies computes how long the entry spent in each stage it passed
// through: consecutive events attribute their gap to the earlier event's
// stage and the latest event is open until now. Events with unparsable
// timestamps contribute nothing. Negative durations clamp to zero.
func Residencies(events []StageEvent, now time.Time) []Residency {
	ordered := make([]orderedEvent, 0, len(events))
	for _, e := range events {
		if oe := orderEvent(e); oe.parsed {
			ordered = append(ordered, oe)
		}
	}
	if len(ordered) == 0 {
		return nil
	}
	slices.SortStableFunc(ordered, compareOrdered)

	out := make([]Residency, 0, len(ordered))
	for i, e := range ordered {
		end := now
		if i+1 < len(ordered) {
			end = ordered[i+1].at
		}
		out = append(out, Residency{Stage: e.StageName, Days: days(end.Sub(e.at))})
	}
	return out
}

// CurrentStageDays is how long the entry has been in its current stage:
// since its latest parsable event, or since createdAt when it has none.
func CurrentStageDays(events []StageEvent, createdAt, now time.Time) float64 {
	since := createdAt
	found := false
	for _, e := range events {
		oe := orderEvent(e)
		if !oe.parsed {
			continue
		}
		if !found || oe.at.After(since) {
			since = oe.at
			found = true
		}
	}
	return days(now.Sub(since))
}

type entityResult struct {
	current     string
	residencies []Residency
}

func evaluate(e EntityTimeline, now time.Time, canonicalDefault string) entityResult {
	return entityResult{
		current:     ResolveStatus(e.Events, e.FallbackStage, canonicalDefault),
		residencies: Residencies(e.Events, now),
	}
}

// Aggregate builds the funnel for the given population. Each entry counts
// exactly once, under its resolved current stage. Stages with no current
// entries are omitted; output follows canonical stage order.
func Aggregate(in AggregateInput) Funnel {
	if len(in.Entities) >= parallelThreshold {
		funnel, _ := AggregateParallel(context.Background(), in, runtime.GOMAXPROCS(0))
		return funnel
	}

	results := make([]entityResult, len(in.Entities))
	for i, e := range in.Entities {
		results[i] = evaluate(e, in.Now, in.DefaultStage)
	}
	return merge(in, results)
}

// AggregateParallel evaluates entities across at most workers goroutines.
// The result is identical to the sequential computation.
func AggregateParallel(ctx context.Context, in AggregateInput, workers int) (Funnel, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]entityResult, len(in.Entities))
	chunk := (len(in.Entities) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(in.Entities); start += chunk {
		end := min(start+chunk, len(in.Entities))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = evaluate(in.Entities[i], in.Now, in.DefaultStage)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Funnel{}, err
	}
	return merge(in, results), nil
}

func merge(in AggregateInput, results []entityResult) Funnel {
	index := IndexStages(in.Stages)
	counts := make(map[string]int)
	durations := make(map[string][]float64)
	unknown := 0

	for _, r := range results {
		if index.Has(r.current) {
			counts[r.current]++
		} else {
			unknown++
		}
		for _, res := range r.residencies {
			durations[res.Stage] = append(durations[res.Stage], res.Days)
		}
	}

	stats := make([]StageStat, 0, len(counts))
	for _, def := range SortStages(in.Stages) {
		count := counts[def.Name]
		if count == 0 {
			continue
		}
		mean, peak := meanAndPeak(durations[def.Name])
		stats = append(stats, StageStat{
			Stage:    def.Name,
			Order:    def.Order,
			Terminal: def.Terminal,
			Count:    count,
			MeanDays: round1(mean),
			PeakDays: round1(peak),
		})
	}

	return Funnel{
		Stages:      stats,
		Unknown:     unknown,
		Total:       len(results),
		GeneratedAt: in.Now,
	}
}

func meanAndPeak(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum, peak float64
	for _, v := range values {
		sum += v
		peak = math.Max(peak, v)
	}
	return sum / float64(len(values)), peak
}

func days(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Hours() / hoursPerDay
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
