// Package metrics provides Prometheus observability for identity-engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all identity-engine metrics. A nil *Metrics is valid and
// records nothing, so tests can pass nil.
type Metrics struct {
	// Ingest upsert outcomes: created, updated, skipped_protected, no_signal
	IngestOutcome *prometheus.CounterVec

	// Identifier registration outcomes by kind: created, exists_elsewhere,
	// blocked, no_signal
	RegisterOutcome *prometheus.CounterVec

	// Canonical search latency
	SearchLatency prometheus.Histogram

	// Deep/raw search latency
	RawSearchLatency prometheus.Histogram

	// Merge chain walks that hit the hop limit or a dangling placeholder
	UnresolvedChains prometheus.Counter
}

// New creates a Metrics instance with all metrics registered on reg. The
// process passes prometheus.DefaultRegisterer; tests pass a fresh
// prometheus.NewRegistry() so binaries that build Metrics more than once do
// not collide on metric names.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_ingest_outcomes_total",
			Help: "Total ingest upsert outcomes by result",
		}, []string{"outcome"}),

		RegisterOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_register_outcomes_total",
			Help: "Total identifier registration outcomes by kind and result",
		}, []string{"kind", "outcome"}),

		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_search_duration_seconds",
			Help:    "Duration of ranked canonical searches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		RawSearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_raw_search_duration_seconds",
			Help:    "Duration of deep searches across staged tables",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		UnresolvedChains: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_unresolved_merge_chains_total",
			Help: "Merge chain walks that could not reach a canonical entity",
		}),
	}
}

// IncIngestOutcome records one ingest upsert outcome.
func (m *Metrics) IncIngestOutcome(outcome string) {
	if m != nil {
		m.IngestOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncRegisterOutcome records one identifier registration outcome.
func (m *Metrics) IncRegisterOutcome(kind, outcome string) {
	if m != nil {
		m.RegisterOutcome.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveSearchLatency records the duration of a ranked search.
func (m *Metrics) ObserveSearchLatency(d time.Duration) {
	if m != nil {
		m.SearchLatency.Observe(d.Seconds())
	}
}

// ObserveRawSearchLatency records the duration of a deep search.
func (m *Metrics) ObserveRawSearchLatency(d time.Duration) {
	if m != nil {
		m.RawSearchLatency.Observe(d.Seconds())
	}
}

// IncUnresolvedChain records a merge chain walk that did not terminate at a
// canonical entity.
func (m *Metrics) IncUnresolvedChain() {
	if m != nil {
		m.UnresolvedChains.Inc()
	}
}
