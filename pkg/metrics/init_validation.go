package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initValidationMetrics() {
	r.ValidationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_validations_total",
			Help: "Total number of validations by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)

	r.ValidationFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_validation_failures_total",
			Help: "Failed validations by failure type",
		},
		[]string{"type"},
	)
}
