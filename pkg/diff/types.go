// Package diff computes structural differences between snapshots and applies
// them.
//
// Nodes and edges are compared as sets keyed by id, snapshot metadata as a set
// keyed by key. Changes are emitted in a fixed order: nodes, then edges, then
// metadata; within each target adds, then modifies, then removes; within each
// group ids ascending.
package diff

import (
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// ChangeKind is the operation a change performs.
type ChangeKind string

const (
	Add    ChangeKind = "add"
	Modify ChangeKind = "modify"
	Remove ChangeKind = "remove"
)

func (k ChangeKind) IsValid() bool {
	return k == Add || k == Modify || k == Remove
}

// Target is the collection a change addresses.
type Target string

const (
	TargetNode     Target = "node"
	TargetEdge     Target = "edge"
	TargetMetadata Target = "metadata"
)

func (t Target) IsValid() bool {
	return t == TargetNode || t == TargetEdge || t == TargetMetadata
}

// Change is one structural edit. Node is set for node adds and modifies, Edge
// for edge adds and modifies, Value for metadata adds and modifies. Removes
// carry only the id.
type Change struct {
	Kind   ChangeKind  `json:"kind" yaml:"kind"`
	Target Target      `json:"target" yaml:"target"`
	ID     string      `json:"id" yaml:"id"`
	Node   *graph.Node `json:"node,omitempty" yaml:"node,omitempty"`
	Edge   *graph.Edge `json:"edge,omitempty" yaml:"edge,omitempty"`
	Value  any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// Data returns the payload that applies to the change target, or nil.
func (c Change) Data() any {
	switch c.Target {
	case TargetNode:
		if c.Node != nil {
			return *c.Node
		}
	case TargetEdge:
		if c.Edge != nil {
			return *c.Edge
		}
	case TargetMetadata:
		return c.Value
	}
	return nil
}

func (c Change) String() string {
	return string(c.Kind) + " " + string(c.Target) + " " + c.ID
}

// Diff is an ordered list of changes turning one snapshot into another.
type Diff struct {
	ID          string    `json:"id" yaml:"id"`
	FromVersion string    `json:"from_version" yaml:"from_version"`
	ToVersion   string    `json:"to_version" yaml:"to_version"`
	FromHash    string    `json:"from_hash,omitempty" yaml:"from_hash,omitempty"`
	ToHash      string    `json:"to_hash,omitempty" yaml:"to_hash,omitempty"`
	Changes     []Change  `json:"changes" yaml:"changes"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// IsEmpty reports whether the diff has no changes.
func (d Diff) IsEmpty() bool {
	return len(d.Changes) == 0
}

// Stats counts changes by kind.
type Stats struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Total returns the number of changes.
func (s Stats) Total() int {
	return s.Added + s.Modified + s.Removed
}

// Stats counts the changes of d by kind.
func (d Diff) Stats() Stats {
	var s Stats
	for _, c := range d.Changes {
		switch c.Kind {
		case Add:
			s.Added++
		case Modify:
			s.Modified++
		case Remove:
			s.Removed++
		}
	}
	return s
}

// ByTarget returns the changes addressing t, in diff order.
func (d Diff) ByTarget(t Target) []Change {
	out := make([]Change, 0)
	for _, c := range d.Changes {
		if c.Target == t {
			out = append(out, c)
		}
	}
	return out
}
