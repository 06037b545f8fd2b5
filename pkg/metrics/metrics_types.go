package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec
	AuthFailuresTotal     prometheus.Counter

	// Version store metrics
	StoreSnapshotsTotal      prometheus.Gauge
	StoreBundlesTotal        prometheus.Gauge
	StoreOperationsTotal     *prometheus.CounterVec
	StoreOperationDuration   *prometheus.HistogramVec
	RestoredAgentStatusTotal *prometheus.CounterVec

	// Validation metrics
	ValidationsTotal        *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec

	// Diff metrics
	DiffChangesTotal *prometheus.CounterVec
	DiffsTotal       *prometheus.CounterVec

	// Telemetry metrics
	TelemetryEventsTotal *prometheus.CounterVec
	BusMessagesTotal     *prometheus.CounterVec

	// Archive metrics
	ArchiveOperationsTotal   *prometheus.CounterVec
	ArchiveOperationDuration *prometheus.HistogramVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}
