package api

import (
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// API Request/Response Types

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Snapshots int       `json:"snapshots"`
	Bundles   int       `json:"bundles"`
	Latest    string    `json:"latest,omitempty"`
	Archive   string    `json:"archive,omitempty"`
}

// CommitResponse is returned by every operation that stores a snapshot.
type CommitResponse struct {
	Hash       string            `json:"hash"`
	Version    string            `json:"version"`
	Validation validation.Result `json:"validation"`
}

// ValidationFailureResponse reports a snapshot or bundle that was rejected.
type ValidationFailureResponse struct {
	Error      string            `json:"error"`
	Validation validation.Result `json:"validation"`
}

// VersionListResponse is a page of stored versions, newest first.
type VersionListResponse struct {
	Versions []versionstore.VersionInfo `json:"versions"`
	Total    int                        `json:"total"`
	Offset   int                        `json:"offset"`
	Limit    int                        `json:"limit"`
}

// UpdateRequest is a partial snapshot update. Absent fields are unchanged;
// a null metadata value deletes the key.
type UpdateRequest struct {
	Version  *string        `json:"version,omitempty"`
	Nodes    []graph.Node   `json:"nodes,omitempty"`
	Edges    []graph.Edge   `json:"edges,omitempty"`
	Metadata graph.Metadata `json:"metadata,omitempty"`
}

// UpdateResponse reports the key an updated snapshot is stored under.
type UpdateResponse struct {
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// DiffRequest names two stored versions by hash, or carries two snapshots
// inline.
type DiffRequest struct {
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Old  *graph.Snapshot `json:"old,omitempty"`
	New  *graph.Snapshot `json:"new,omitempty"`
}

// DiffResponse wraps a diff with its change counts.
type DiffResponse struct {
	Diff  diff.Diff  `json:"diff"`
	Stats diff.Stats `json:"stats"`
}

// ApplyRequest applies Diff to the snapshot stored under Base.
type ApplyRequest struct {
	Base string    `json:"base"`
	Diff diff.Diff `json:"diff"`
}

// ApplyFailureResponse reports the change that could not be applied.
type ApplyFailureResponse struct {
	Error  string       `json:"error"`
	Index  int          `json:"index"`
	Change *diff.Change `json:"change,omitempty"`
}

// RollbackRequest names a version by hash or version label.
type RollbackRequest struct {
	Target string `json:"target"`
	// Commit stores the rolled-back snapshot as a new version.
	Commit bool `json:"commit,omitempty"`
}

// RollbackResponse carries the working snapshot a rollback produced.
type RollbackResponse struct {
	Snapshot *graph.Snapshot `json:"snapshot"`
	Hash     string          `json:"hash,omitempty"`
}

// BundleRequest captures the latest snapshot with agent statuses.
type BundleRequest struct {
	AgentStatuses []graph.AgentStatus `json:"agent_statuses"`
}

// EventsResponse is a filtered slice of recorded telemetry events.
type EventsResponse struct {
	Events []telemetry.Event `json:"events"`
	Count  int               `json:"count"`
	Total  int64             `json:"total"`
}

// AuditResponse is a filtered slice of audit events.
type AuditResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
	Total  int64          `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
