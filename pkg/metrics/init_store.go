package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.StoreSnapshotsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dagvc_store_snapshots",
			Help: "Number of snapshots held by the version store",
		},
	)

	r.StoreBundlesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dagvc_store_bundles",
			Help: "Number of bundles held by the version store",
		},
	)

	r.StoreOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_store_operations_total",
			Help: "Total number of version store operations",
		},
		[]string{"operation", "status"},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dagvc_store_operation_duration_seconds",
			Help:    "Version store operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"operation"},
	)

	r.RestoredAgentStatusTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_restored_agent_statuses_total",
			Help: "Agent statuses handed back to the agent registry during bundle restore",
		},
		[]string{"status"},
	)
}
