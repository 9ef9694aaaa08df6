package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the pipeline module.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Service operation latency by operation and outcome ("ok", error kind)
	OperationLatency *prometheus.HistogramVec

	// Stage events written
	EventsAppended prometheus.Counter

	// Duplicate checks that failed open, by source ("store", "queue")
	DuplicateFailOpen *prometheus.CounterVec

	// Facet membership queries that failed, by facet and reason ("timeout", "error")
	FacetQueryFailures *prometheus.CounterVec

	// Entries aggregated per funnel request
	FunnelPopulation prometheus.Histogram
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ats_pipeline_operation_duration_seconds",
			Help:    "Duration of pipeline service operations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation", "outcome"}),

		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "ats_pipeline_events_appended_total",
			Help: "Total stage events appended to the log",
		}),

		DuplicateFailOpen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ats_pipeline_duplicate_check_fail_open_total",
			Help: "Duplicate checks that reported no duplicate because a lookup failed",
		}, []string{"source"}),

		FacetQueryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ats_pipeline_facet_query_failures_total",
			Help: "Facet membership queries that failed or timed out",
		}, []string{"facet", "reason"}),

		FunnelPopulation: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ats_pipeline_funnel_population_size",
			Help:    "Number of entries aggregated per funnel request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// ObserveOperation records how long an operation took, labelled by outcome.
func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}
}

// AddEventsAppended counts newly written events.
func (m *Metrics) AddEventsAppended(n int) {
	if m != nil {
		m.EventsAppended.Add(float64(n))
	}
}

// IncrementDuplicateFailOpen records a swallowed duplicate-check failure.
func (m *Metrics) IncrementDuplicateFailOpen(source string) {
	if m != nil {
		m.DuplicateFailOpen.WithLabelValues(source).Inc()
	}
}

// IncrementFacetFailure records a failed facet query.
func (m *Metrics) IncrementFacetFailure(facet string, timedOut bool) {
	if m == nil {
		return
	}
	reason := "error"
	if timedOut {
		reason = "timeout"
	}
	m.FacetQueryFailures.WithLabelValues(facet, reason).Inc()
}

// ObserveFunnelPopulation records the size of an aggregated population.
func (m *Metrics) ObserveFunnelPopulation(n int) {
	if m != nil {
		m.FunnelPopulation.Observe(float64(n))
	}
}
