package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initDiffMetrics() {
	r.DiffsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_diffs_total",
			Help: "Diffs computed, applied or inverted",
		},
		[]string{"operation", "status"},
	)

	r.DiffChangesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_diff_changes_total",
			Help: "Changes carried by processed diffs",
		},
		[]string{"kind", "target"},
	)
}
