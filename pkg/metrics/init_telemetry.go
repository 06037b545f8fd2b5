package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTelemetryMetrics() {
	r.TelemetryEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_telemetry_events_total",
			Help: "Telemetry events emitted by type",
		},
		[]string{"type"},
	)

	r.BusMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dagvc_bus_messages_total",
			Help: "Messages forwarded to the message bus",
		},
		[]string{"status"},
	)
}
