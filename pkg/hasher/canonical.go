package hasher

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// canonicalSnapshot is the hash input of a snapshot. Id, timestamps,
// snapshot metadata and the stamped hash are deliberately not part of it.
type canonicalSnapshot struct {
	Version string       `json:"version"`
	Nodes   []graph.Node `json:"nodes"`
	Edges   []graph.Edge `json:"edges"`
}

type canonicalBundle struct {
	ID            string              `json:"id"`
	SnapshotHash  string              `json:"snapshot_hash"`
	AgentStatuses []graph.AgentStatus `json:"agent_statuses"`
}

// Canonicalize returns the deterministic byte encoding of a snapshot's
// content: version, nodes sorted by id and edges sorted by id. Dependency
// order inside a node is preserved because it is part of the content.
// encoding/json writes map keys in sorted order, which makes metadata stable.
func Canonicalize(s *graph.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, graph.ErrNilSnapshot
	}

	nodes := make([]graph.Node, len(s.Nodes))
	copy(nodes, s.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]graph.Edge, len(s.Edges))
	copy(edges, s.Edges)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	data, err := json.Marshal(canonicalSnapshot{Version: s.Version, Nodes: nodes, Edges: edges})
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot %s: %w", s.ID, err)
	}
	return data, nil
}

// CanonicalNode encodes a single node for content comparison.
func CanonicalNode(n graph.Node) ([]byte, error) {
	return json.Marshal(n)
}

// CanonicalEdge encodes a single edge for content comparison.
func CanonicalEdge(e graph.Edge) ([]byte, error) {
	return json.Marshal(e)
}

// CanonicalValue encodes an arbitrary metadata value for content comparison.
func CanonicalValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

func canonicalizeBundle(b *graph.Bundle, snapshotHash string) ([]byte, error) {
	statuses := make([]graph.AgentStatus, len(b.AgentStatuses))
	copy(statuses, b.AgentStatuses)
	sort.SliceStable(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })

	data, err := json.Marshal(canonicalBundle{
		ID:            b.ID,
		SnapshotHash:  snapshotHash,
		AgentStatuses: statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize bundle %s: %w", b.ID, err)
	}
	return data, nil
}
