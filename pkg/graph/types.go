// Package graph defines the value types of a versioned orchestration graph:
// nodes (agents, services, gateways), the edges between them, snapshots of the
// whole graph, and the agent status records bundled alongside snapshots.
//
// Snapshots are treated as immutable values. Anything that changes a graph
// works on a Clone and produces a new snapshot.
package graph

import (
	"errors"
	"time"
)

// ErrNilSnapshot is returned when a nil snapshot is passed where one is required.
var ErrNilSnapshot = errors.New("snapshot is nil")

// NodeKind is the role class of an orchestrated unit.
type NodeKind string

const (
	KindAgent   NodeKind = "agent"
	KindService NodeKind = "service"
	KindGateway NodeKind = "gateway"
)

func (k NodeKind) IsValid() bool {
	switch k {
	case KindAgent, KindService, KindGateway:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a node or agent.
type NodeStatus string

const (
	StatusActive   NodeStatus = "active"
	StatusInactive NodeStatus = "inactive"
	StatusError    NodeStatus = "error"
)

func (s NodeStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}

// EdgeKind classifies what flows along an edge.
type EdgeKind string

const (
	EdgeData    EdgeKind = "data"
	EdgeControl EdgeKind = "control"
	EdgeEvent   EdgeKind = "event"
)

func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeData, EdgeControl, EdgeEvent:
		return true
	}
	return false
}

// ValidationStatus records the last validation verdict stamped on a snapshot.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationPending ValidationStatus = "pending"
)

func (s ValidationStatus) IsValid() bool {
	switch s {
	case ValidationValid, ValidationInvalid, ValidationPending:
		return true
	}
	return false
}

// Metadata is an open key-value map attached to nodes, edges and snapshots.
type Metadata map[string]any

// Node is one orchestrated unit.
//
// Dependencies name other nodes of the same snapshot. They are only checked
// by validation so that a diff can pass through inconsistent states while it
// is being applied.
type Node struct {
	ID           string     `json:"id" yaml:"id" validate:"required"`
	Kind         NodeKind   `json:"kind" yaml:"kind" validate:"required"`
	Role         string     `json:"role" yaml:"role" validate:"required"`
	Status       NodeStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Metadata     Metadata   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Edge connects two nodes of the same snapshot.
type Edge struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Source   string   `json:"source" yaml:"source" validate:"required"`
	Target   string   `json:"target" yaml:"target" validate:"required"`
	Kind     EdgeKind `json:"kind" yaml:"kind" validate:"required"`
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Snapshot is a full capture of the graph at one version.
//
// IntegrityHash is computed by the hasher. A caller-supplied value is only
// ever compared against, never trusted.
type Snapshot struct {
	ID               string           `json:"id" yaml:"id"`
	Version          string           `json:"version" yaml:"version"`
	Nodes            []Node           `json:"nodes" yaml:"nodes"`
	Edges            []Edge           `json:"edges" yaml:"edges"`
	Metadata         Metadata         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at" yaml:"updated_at,omitempty"`
	IntegrityHash    string           `json:"integrity_hash,omitempty" yaml:"integrity_hash,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty" yaml:"validation_status,omitempty"`
}

// AgentStatus is a status record supplied by the agent registry.
type AgentStatus struct {
	ID        string     `json:"id" yaml:"id" validate:"required"`
	Status    NodeStatus `json:"status" yaml:"status" validate:"required"`
	Uptime    float64    `json:"uptime" yaml:"uptime" validate:"gte=0"`
	LastEvent Metadata   `json:"last_event,omitempty" yaml:"last_event,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Bundle wraps a snapshot together with the agent statuses observed when it
// was taken. IntegrityHash covers the snapshot hash and every status.
type Bundle struct {
	ID            string        `json:"id" yaml:"id"`
	Snapshot      *Snapshot     `json:"snapshot" yaml:"snapshot"`
	AgentStatuses []AgentStatus `json:"agent_statuses" yaml:"agent_statuses"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at,omitempty"`
	IntegrityHash string        `json:"integrity_hash,omitempty" yaml:"integrity_hash,omitempty"`
}
