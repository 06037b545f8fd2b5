// Package audit records who changed the version history. Events are kept
// in a bounded in-memory ring for queries and can be written to a
// hash-chained log on disk that detects tampering.
package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action types for audit events
type Action string

const (
	ActionCommit       Action = "commit"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionApply        Action = "apply"
	ActionRollback     Action = "rollback"
	ActionCreateBundle Action = "create_bundle"
	ActionRestore      Action = "restore"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceSnapshot ResourceType = "snapshot"
	ResourceBundle   ResourceType = "bundle"
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Subject      string            `json:"subject,omitempty"`
	Role         string            `json:"role,omitempty"`
	Action       Action            `json:"action"`
	ResourceType ResourceType      `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Status       Status            `json:"status"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	RemoteAddr   string            `json:"remote_addr,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped now with a fresh id.
func NewEvent(action Action, resourceType ResourceType, resourceID string, status Status) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       status,
	}
}

// String returns a human-readable representation of an event
func (e *Event) String() string {
	subject := e.Subject
	if subject == "" {
		subject = "anonymous"
	}
	return fmt.Sprintf("[%s] %s %s %s %s (%s)",
		e.Timestamp.Format(time.RFC3339), subject, e.Action, e.ResourceType, e.ResourceID, e.Status)
}

// Filter represents filtering criteria for audit events
type Filter struct {
	Subject      string
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	Status       Status
	StartTime    *time.Time
	EndTime      *time.Time
}

// Matches reports whether e passes every set criterion. A nil filter
// matches everything.
func (f *Filter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Subject != "" && e.Subject != f.Subject,
		f.Action != "" && e.Action != f.Action,
		f.ResourceType != "" && e.ResourceType != f.ResourceType,
		f.ResourceID != "" && e.ResourceID != f.ResourceID,
		f.Status != "" && e.Status != f.Status,
		f.StartTime != nil && e.Timestamp.Before(*f.StartTime),
		f.EndTime != nil && e.Timestamp.After(*f.EndTime):
		return false
	}
	return true
}

// Logger is implemented by every audit sink.
type Logger interface {
	// Log records an audit event
	Log(event *Event) error

	// GetEventCount returns the number of events logged
	GetEventCount() int64
}

// Querier is implemented by sinks that can answer queries.
type Querier interface {
	GetEvents(filter *Filter) []*Event
}

// AuditLogger keeps the most recent events in a circular buffer.
type AuditLogger struct {
	events     []*Event
	bufferSize int
	index      int
	count      int
	total      int64
	mu         sync.RWMutex
}

// NewAuditLogger creates a new audit logger with specified buffer size
func NewAuditLogger(bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &AuditLogger{
		events:     make([]*Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Log records an audit event
func (l *AuditLogger) Log(event *Event) error {
	if event == nil {
		return errors.New("audit: nil event")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	l.events[l.index] = event
	l.index = (l.index + 1) % l.bufferSize
	if l.count < l.bufferSize {
		l.count++
	}
	l.total++
	return nil
}

// GetEvents returns the held events matching filter, oldest first.
func (l *AuditLogger) GetEvents(filter *Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.index - l.count + i + l.bufferSize) % l.bufferSize
		if event := l.events[idx]; event != nil && filter.Matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// GetRecentEvents returns the N most recent events, newest first.
func (l *AuditLogger) GetRecentEvents(n int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.count {
		n = l.count
	}
	result := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.index - 1 - i + l.bufferSize) % l.bufferSize
		result = append(result, l.events[idx])
	}
	return result
}

// GetEventCount returns the number of events ever logged, including those
// the ring has since dropped.
func (l *AuditLogger) GetEventCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Multi fans events out to several sinks. Queries go to the first sink
// that supports them.
type Multi struct {
	loggers []Logger
}

// NewMulti creates a fan-out logger. Nil loggers are skipped.
func NewMulti(loggers ...Logger) *Multi {
	m := &Multi{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes event to every sink and joins their errors.
func (m *Multi) Log(event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetEventCount returns the first sink's count.
func (m *Multi) GetEventCount() int64 {
	if len(m.loggers) == 0 {
		return 0
	}
	return m.loggers[0].GetEventCount()
}

// GetEvents queries the first sink implementing Querier.
func (m *Multi) GetEvents(filter *Filter) []*Event {
	for _, l := range m.loggers {
		if q, ok := l.(Querier); ok {
			return q.GetEvents(filter)
		}
	}
	return nil
}
