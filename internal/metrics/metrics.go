// Package metrics holds the Prometheus collectors for the feedback loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for genfeedback.
type Metrics struct {
	// Feedback cycle metrics
	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	FailuresCollected prometheus.Counter
	PatternsStored    *prometheus.CounterVec
	RepairsStored     prometheus.Counter

	// Bridge metrics
	ViolationsBridged *prometheus.CounterVec

	// Advisor metrics
	AdviceRequests *prometheus.CounterVec
	Invalidations  *prometheus.CounterVec

	// Store metrics
	StoreErrors  *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg yields
// working but unregistered collectors, which is what tests and library
// callers that do not export metrics want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gf_cycles_total",
			Help: "Total number of feedback cycles run",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gf_cycle_duration_seconds",
			Help:    "Duration of feedback cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}),
		FailuresCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "gf_failures_collected_total",
			Help: "Total number of failure events collected by feedback cycles",
		}),
		PatternsStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gf_patterns_stored_total",
			Help: "Anti-pattern upserts by outcome",
		}, []string{"outcome"}),
		RepairsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "gf_repairs_stored_total",
			Help: "Total number of repair pattern upserts",
		}),
		ViolationsBridged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gf_violations_bridged_total",
			Help: "Diagnostic violations bridged into the pattern store by outcome",
		}, []string{"outcome"}),
		AdviceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gf_advice_requests_total",
			Help: "Advisor requests by cache result",
		}, []string{"result"}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gf_advice_invalidations_total",
			Help: "Advisor cache invalidations by origin",
		}, []string{"origin"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gf_store_errors_total",
			Help: "Store operations that failed or timed out",
		}, []string{"op"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gf_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
	}
}

// Outcome labels.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"
)

// Advice cache result labels.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultDegraded = "degraded"
)
