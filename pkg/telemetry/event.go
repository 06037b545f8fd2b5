// Package telemetry defines the trace events emitted by version store
// operations and the sinks that consume them.
//
// The store only depends on the Emitter interface. Sinks are assembled by
// the host: structured logs, Prometheus counters, an in-memory ring buffer,
// the in-process broker and the message bus.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names the operation an event traces.
type EventType string

const (
	EventStore    EventType = "store"
	EventRetrieve EventType = "retrieve"
	EventUpdate   EventType = "update"
	EventDelete   EventType = "delete"
	EventSnapshot EventType = "snapshot"
	EventRestore  EventType = "restore"
	EventValidate EventType = "validate"
	EventRollback EventType = "rollback"
	EventDiff     EventType = "diff"
	EventApply    EventType = "apply"
)

// EventTypes lists every event type.
func EventTypes() []EventType {
	return []EventType{
		EventStore, EventRetrieve, EventUpdate, EventDelete, EventSnapshot,
		EventRestore, EventValidate, EventRollback, EventDiff, EventApply,
	}
}

// Status is the outcome of the traced operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Attribute keys shared by emitters and consumers.
const (
	AttrHash      = "hash"
	AttrPrevHash  = "previous_hash"
	AttrVersion   = "version"
	AttrBundleID  = "bundle_id"
	AttrDiffID    = "diff_id"
	AttrReason    = "reason"
	AttrFailure   = "failure_type"
	AttrError     = "error"
	AttrChanges   = "changes"
	AttrRestored  = "restored"
	AttrWarnings  = "warnings"
	AttrNodeCount = "nodes"
	AttrEdgeCount = "edges"
	AttrFound     = "found"
	AttrTarget    = "target"
	AttrDuration  = "duration_ms"
)

// Event is one trace record.
type Event struct {
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
	Status        Status         `json:"status"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NewEvent creates a successful event with a fresh correlation id.
func NewEvent(t EventType, source string) Event {
	return Event{
		Type:          t,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Source:        source,
		Status:        StatusSuccess,
		Attributes:    make(map[string]any),
	}
}

// With returns a copy of e with one more attribute.
func (e Event) With(key string, value any) Event {
	attrs := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// Failed returns a copy of e marked as failed with the given error.
func (e Event) Failed(err error) Event {
	e.Status = StatusFailure
	if err != nil {
		return e.With(AttrError, err.Error())
	}
	return e
}

// Attr returns an attribute as a string, or "" if absent.
func (e Event) Attr(key string) string {
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// String returns a human-readable representation of an event
func (e Event) String() string {
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s (source: %s, correlation: %s)",
		e.Timestamp.Format(time.RFC3339), e.Type, e.Status, e.Source, e.CorrelationID)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attributes[k])
	}
	return b.String()
}
