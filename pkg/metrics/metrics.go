package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry, used by binaries that
// do not build their own.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initHTTPMetrics()
	r.initStoreMetrics()
	r.initValidationMetrics()
	r.initDiffMetrics()
	r.initTelemetryMetrics()
	r.initArchiveMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func statusLabel(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the size of an HTTP response body.
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

func (r *Registry) IncHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Inc() }
func (r *Registry) DecHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Dec() }

// RecordAuthFailure counts a rejected credential.
func (r *Registry) RecordAuthFailure() {
	r.AuthFailuresTotal.Inc()
}

// RecordStoreOperation records a version store operation.
func (r *Registry) RecordStoreOperation(operation string, err error, duration time.Duration) {
	r.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetStoreSize publishes the number of stored snapshots and bundles.
func (r *Registry) SetStoreSize(snapshots, bundles int) {
	r.StoreSnapshotsTotal.Set(float64(snapshots))
	r.StoreBundlesTotal.Set(float64(bundles))
}

// RecordValidation records a validation verdict. failureType is empty for a
// passing result.
func (r *Registry) RecordValidation(subject string, ok bool, failureType string) {
	if ok {
		r.ValidationsTotal.WithLabelValues(subject, "valid").Inc()
		return
	}
	r.ValidationsTotal.WithLabelValues(subject, "invalid").Inc()
	r.ValidationFailuresTotal.WithLabelValues(failureType).Inc()
}

// RecordDiff records a computed or applied diff and its change counts.
// counts is keyed by [kind, target].
func (r *Registry) RecordDiff(operation string, err error, counts map[[2]string]int) {
	r.DiffsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	for key, n := range counts {
		r.DiffChangesTotal.WithLabelValues(key[0], key[1]).Add(float64(n))
	}
}

// RecordRestoredAgent records one agent status handed back to the registry.
func (r *Registry) RecordRestoredAgent(err error) {
	r.RestoredAgentStatusTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordTelemetryEvent counts an emitted telemetry event.
func (r *Registry) RecordTelemetryEvent(eventType string) {
	r.TelemetryEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordBusMessage counts a message forwarded to the message bus.
func (r *Registry) RecordBusMessage(err error) {
	r.BusMessagesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordArchiveOperation records a durable storage operation.
func (r *Registry) RecordArchiveOperation(backend, operation string, err error, duration time.Duration) {
	r.ArchiveOperationsTotal.WithLabelValues(backend, operation, statusLabel(err)).Inc()
	r.ArchiveOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes process gauges.
func (r *Registry) UpdateSystemMetrics(start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
