// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexBuildsTotal counts index builds by outcome.
	IndexBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_index_builds_total",
		Help: "External object index builds by outcome.",
	}, []string{"outcome"})

	// IndexEntriesCreated counts index entries written.
	IndexEntriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_index_entries_created_total",
		Help: "External object index entries created.",
	})

	// IndexBuildDuration observes index build latency.
	IndexBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollup_index_build_duration_seconds",
		Help:    "External object index build duration.",
		Buckets: prometheus.DefBuckets,
	})

	// CacheHits counts cache hits by tier.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})

	// CacheMisses counts cache misses by tier.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_cache_misses_total",
		Help: "Cache misses by tier.",
	}, []string{"tier"})

	// JobsTotal counts orchestrator jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_jobs_total",
		Help: "Orchestrator jobs by terminal status.",
	}, []string{"status"})

	// ExecutionsInflight gauges currently running executions.
	ExecutionsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_executions_inflight",
		Help: "Executions currently being processed.",
	})

	// ExecutionPhaseDuration observes per-phase execution latency.
	ExecutionPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollup_execution_phase_duration_seconds",
		Help:    "Execution phase duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// EventsPublished counts published events by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_events_published_total",
		Help: "Events published to the bus by type.",
	}, []string{"type"})

	// EventsDropped counts events dropped after publish retry exhaustion.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_events_dropped_total",
		Help: "Events dropped after exhausting publish retries.",
	}, []string{"type"})

	// DeadLetters counts dead-letter queue writes.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_dead_letters_total",
		Help: "Executions written to the dead-letter queue.",
	})
)
