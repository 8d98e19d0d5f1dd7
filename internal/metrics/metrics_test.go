package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Batch(OutcomeCommitted)
	m.Batch(OutcomeCommitted)
	m.Batch(OutcomeRejected)
	m.TaskAdded()
	m.ElementsAdded(3)
	m.RunAdded()

	if got := testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeCommitted)); got != 2 {
		t.Errorf("committed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Elements); got != 3 {
		t.Errorf("elements = %v, want 3", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 5 {
		t.Errorf("GatherAndCount = %d, %v; want 5", n, err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Batch(OutcomeStale)
	m.TaskAdded()
	m.ElementsAdded(1)
	m.RunAdded()
}
