// Package metrics counts workflow batch outcomes and structural changes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeStale     = "stale"
)

// Metrics holds the orchestrator's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Batches  *prometheus.CounterVec
	Tasks    prometheus.Counter
	Elements prometheus.Counter
	Runs     prometheus.Counter
}

// New creates the collectors and registers them with reg, if not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elemflow_batches_total",
				Help: "Batch updates by outcome",
			},
			[]string{"outcome"},
		),
		Tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elemflow_tasks_added_total",
			Help: "Tasks added, including those later rolled back",
		}),
		Elements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elemflow_elements_added_total",
			Help: "Elements added, including those later rolled back",
		}),
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elemflow_runs_added_total",
			Help: "Element action runs added",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.Tasks, m.Elements, m.Runs)
	}
	return m
}

// Batch records one batch outcome.
func (m *Metrics) Batch(outcome string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(outcome).Inc()
}

// TaskAdded records one task insertion.
func (m *Metrics) TaskAdded() {
	if m == nil {
		return
	}
	m.Tasks.Inc()
}

// ElementsAdded records n new elements.
func (m *Metrics) ElementsAdded(n int) {
	if m == nil {
		return
	}
	m.Elements.Add(float64(n))
}

// RunAdded records one new run.
func (m *Metrics) RunAdded() {
	if m == nil {
		return
	}
	m.Runs.Inc()
}
