// Package metrics provides Prometheus metrics for the news engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "esgnews"

var (
	// ResolveTotal counts resolve calls by serving tier and status.
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_total",
			Help:      "Total number of resolve calls",
		},
		[]string{"tier", "status"},
	)

	// ResolveDuration measures resolve latency by serving tier.
	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of resolve calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// LiveComputations counts live computations actually started.
	LiveComputations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_computations_total",
			Help:      "Total number of live computations started by the resolver",
		},
	)

	// QueriesTotal counts outbound search queries by outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of outbound search queries",
		},
		[]string{"source", "outcome"},
	)

	// SchedulerRuns counts scheduled refreshes by outcome.
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Total number of scheduled refresh runs",
		},
		[]string{"subject", "outcome"},
	)

	// SchedulerRunDuration measures scheduled refresh latency.
	SchedulerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_run_duration_seconds",
			Help:      "Duration of scheduled refresh runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"subject"},
	)

	// ClusterCount observes the number of clusters per computed result.
	ClusterCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "result_clusters",
			Help:      "Distribution of cluster counts per computed result",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	// CacheEntries tracks stored entries per tier.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of cache entries per tier",
		},
		[]string{"tier"},
	)
)

// RecordResolve records a completed resolve call.
func RecordResolve(tier, status string, duration float64) {
	ResolveTotal.WithLabelValues(tier, status).Inc()
	ResolveDuration.WithLabelValues(tier).Observe(duration)
}

// RecordQuery records one outbound search query.
func RecordQuery(source, outcome string) {
	QueriesTotal.WithLabelValues(source, outcome).Inc()
}

// RecordSchedulerRun records a finished scheduled refresh.
func RecordSchedulerRun(subject, outcome string, duration float64) {
	SchedulerRuns.WithLabelValues(subject, outcome).Inc()
	SchedulerRunDuration.WithLabelValues(subject).Observe(duration)
}

// SetCacheEntries sets the gauges from a cache info snapshot.
func SetCacheEntries(tier1, tier2 int) {
	CacheEntries.WithLabelValues("scheduler").Set(float64(tier1))
	CacheEntries.WithLabelValues("on_demand").Set(float64(tier2))
}
