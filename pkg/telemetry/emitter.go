package telemetry

import (
	"sort"
	"sync"

	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
)

// Emitter receives trace events. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Emitter interface {
	Emit(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Multi fans an event out to several emitters in order.
type Multi struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMulti creates a fan-out emitter. Nil emitters are skipped.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add registers another emitter.
func (m *Multi) Add(e Emitter) {
	if e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

func (m *Multi) Emit(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, em := range m.emitters {
		em.Emit(e)
	}
}

// LogEmitter writes every event as a structured log line. Failures are
// logged at warn level.
type LogEmitter struct {
	logger logging.Logger
}

// NewLogEmitter creates a log sink. A nil logger uses the default logger.
func NewLogEmitter(logger logging.Logger) *LogEmitter {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &LogEmitter{logger: logger.With(logging.Component("telemetry"))}
}

func (l *LogEmitter) Emit(e Event) {
	fields := []logging.Field{
		logging.String("event", string(e.Type)),
		logging.String("status", string(e.Status)),
		logging.String("source", e.Source),
		logging.CorrelationID(e.CorrelationID),
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, logging.Any(k, e.Attributes[k]))
	}

	if e.Status == StatusFailure {
		l.logger.Warn("operation failed", fields...)
		return
	}
	l.logger.Debug("operation", fields...)
}

// MetricsEmitter counts events per type.
type MetricsEmitter struct {
	registry *metrics.Registry
}

// NewMetricsEmitter creates a Prometheus sink.
func NewMetricsEmitter(registry *metrics.Registry) *MetricsEmitter {
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	return &MetricsEmitter{registry: registry}
}

func (m *MetricsEmitter) Emit(e Event) {
	m.registry.RecordTelemetryEvent(string(e.Type))
}
