package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FolderOperations counts folder mutations by operation (create|rename|move) and result
	// (success|noop|error).
	FolderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbvault_folder_operations_total",
			Help: "Total number of folder mutations",
		},
		[]string{"operation", "result"},
	)

	// PropagationFailures counts descendant directories that could not be reconciled during a
	// rename or move.
	PropagationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbvault_folder_propagation_failures_total",
			Help: "Descendant directory reconciliations that failed and were skipped",
		},
	)

	// MaterialsRelocated counts material rows whose folder_path was rewritten.
	MaterialsRelocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbvault_materials_relocated_total",
			Help: "Material rows whose folder path was rewritten",
		},
	)

	// TreeCacheLookups records folder tree cache reads by result (hit|miss).
	TreeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbvault_folder_tree_cache_lookups_total",
			Help: "Folder tree cache lookups",
		},
		[]string{"result"},
	)

	// ConsistencyFaults reports the fault count found by the most recent consistency audit.
	ConsistencyFaults = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kbvault_consistency_faults",
			Help: "Faults found by the last storage consistency audit",
		},
		[]string{"kind"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbvault_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
