// Package metrics provides Prometheus metrics for the Juniper service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionRunsTotal tracks total resolution runs by status
	ResolutionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "resolution",
			Name:      "runs_total",
			Help:      "Total number of resolution runs by status",
		},
		[]string{"status"},
	)

	// ResolutionRunDuration tracks resolution run duration in seconds
	ResolutionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "juniper",
			Subsystem: "resolution",
			Name:      "run_duration_seconds",
			Help:      "Duration of resolution runs in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// RecordsProcessed tracks person records processed by outcome
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "resolution",
			Name:      "records_processed_total",
			Help:      "Total number of person records processed by outcome",
		},
		[]string{"outcome"},
	)

	// ClustersProduced tracks clusters produced per run by matching method
	ClustersProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "resolution",
			Name:      "clusters_total",
			Help:      "Total number of clusters produced by matching method",
		},
		[]string{"method"},
	)

	// FuzzyComparisons tracks ensemble comparisons performed during runs
	FuzzyComparisons = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "resolution",
			Name:      "fuzzy_comparisons_total",
			Help:      "Total number of ensemble record comparisons performed",
		},
	)

	// RecordsIngested tracks person records accepted through the API or Kafka
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of person records ingested by source",
		},
		[]string{"source", "status"},
	)

	// KafkaMessagesConsumed tracks messages consumed from the records topic
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of Kafka messages consumed by status",
		},
		[]string{"status"},
	)

	// IdentityEventsPublished tracks identity events published to Kafka
	IdentityEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "kafka",
			Name:      "identity_events_published_total",
			Help:      "Total number of identity events published by type and status",
		},
		[]string{"event_type", "status"},
	)

	// GraphSyncDuration tracks graph projection duration per run
	GraphSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "juniper",
			Subsystem: "graph",
			Name:      "sync_duration_seconds",
			Help:      "Duration of graph projections in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// LookupSearches tracks name searches served by cache state
	LookupSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "juniper",
			Subsystem: "lookup",
			Name:      "searches_total",
			Help:      "Total number of name searches served by cache state",
		},
		[]string{"cache"},
	)

	// DatabaseQueryDuration tracks database query duration by operation
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "juniper",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)
