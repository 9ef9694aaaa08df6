package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegisterOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AddEventsAppended(3)
	m.IncrementDuplicateFailOpen("queue")
	m.IncrementFacetFailure("company", true)
	m.IncrementFacetFailure("company", false)
	m.ObserveOperation("GetFunnel", "ok", time.Now())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateFailOpen.WithLabelValues("queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FacetQueryFailures.WithLabelValues("company", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddEventsAppended(1)
		m.IncrementDuplicateFailOpen("store")
		m.IncrementFacetFailure("country", false)
		m.ObserveOperation("x", "ok", time.Now())
		m.ObserveFunnelPopulation(10)
	})
}
