package graph

import (
	"sort"
	"time"
)

// EmptySnapshotID identifies the default snapshot returned by an empty store.
const EmptySnapshotID = "empty"

// EmptySnapshot returns the well-defined snapshot used when nothing is stored.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		ID:               EmptySnapshotID,
		Version:          "0",
		Nodes:            []Node{},
		Edges:            []Edge{},
		Metadata:         Metadata{},
		ValidationStatus: ValidationPending,
	}
}

// NewSnapshot creates a pending snapshot with both timestamps set to now.
func NewSnapshot(id, version string, nodes []Node, edges []Edge) *Snapshot {
	now := time.Now().UTC()
	if nodes == nil {
		nodes = []Node{}
	}
	if edges == nil {
		edges = []Edge{}
	}
	return &Snapshot{
		ID:               id,
		Version:          version,
		Nodes:            nodes,
		Edges:            edges,
		Metadata:         Metadata{},
		CreatedAt:        now,
		UpdatedAt:        now,
		ValidationStatus: ValidationPending,
	}
}

// Clone returns a deep copy. Nil nodes/edges slices stay nil so validation
// still sees a missing collection.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Nodes != nil {
		out.Nodes = make([]Node, len(s.Nodes))
		for i := range s.Nodes {
			out.Nodes[i] = s.Nodes[i].Clone()
		}
	}
	if s.Edges != nil {
		out.Edges = make([]Edge, len(s.Edges))
		for i := range s.Edges {
			out.Edges[i] = s.Edges[i].Clone()
		}
	}
	out.Metadata = s.Metadata.Clone()
	return &out
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Dependencies != nil {
		out.Dependencies = append([]string(nil), n.Dependencies...)
	}
	out.Metadata = n.Metadata.Clone()
	return out
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	out := e
	out.Metadata = e.Metadata.Clone()
	return out
}

// Clone returns a deep copy of the agent status.
func (a AgentStatus) Clone() AgentStatus {
	out := a
	out.LastEvent = a.LastEvent.Clone()
	return out
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.Snapshot = b.Snapshot.Clone()
	if b.AgentStatuses != nil {
		out.AgentStatuses = make([]AgentStatus, len(b.AgentStatuses))
		for i := range b.AgentStatuses {
			out.AgentStatuses[i] = b.AgentStatuses[i].Clone()
		}
	}
	return &out
}

// Clone deep-copies nested maps and slices. Scalars are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a metadata value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Metadata(t).Clone())
	case Metadata:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// NodeIndex maps node id to its position in Nodes. Later duplicates win.
func (s *Snapshot) NodeIndex() map[string]int {
	idx := make(map[string]int, len(s.Nodes))
	for i := range s.Nodes {
		idx[s.Nodes[i].ID] = i
	}
	return idx
}

// EdgeIndex maps edge id to its position in Edges. Later duplicates win.
func (s *Snapshot) EdgeIndex() map[string]int {
	idx := make(map[string]int, len(s.Edges))
	for i := range s.Edges {
		idx[s.Edges[i].ID] = i
	}
	return idx
}

// HasNode reports whether a node with the given id exists.
func (s *Snapshot) HasNode(id string) bool {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return true
		}
	}
	return false
}

// FindNode returns the node with the given id.
func (s *Snapshot) FindNode(id string) (Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return s.Nodes[i], true
		}
	}
	return Node{}, false
}

// NodeIDs returns the node ids in ascending order.
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for i := range s.Nodes {
		ids = append(ids, s.Nodes[i].ID)
	}
	sort.Strings(ids)
	return ids
}

// EdgeIDs returns the edge ids in ascending order.
func (s *Snapshot) EdgeIDs() []string {
	ids := make([]string, 0, len(s.Edges))
	for i := range s.Edges {
		ids = append(ids, s.Edges[i].ID)
	}
	sort.Strings(ids)
	return ids
}
