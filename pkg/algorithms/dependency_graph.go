// Package algorithms implements graph algorithms over snapshot topologies.
//
// The directed graph analysed here is the one implied by node dependency
// lists: an arc runs from a node to each node it depends on. Dependency ids
// that do not name a node of the snapshot are dropped; referential integrity
// is reported by validation, not here.
package algorithms

import (
	"sort"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// dependencyGraph is an adjacency view of a snapshot with deterministic
// iteration order.
type dependencyGraph struct {
	ids []string            // node ids, ascending
	out map[string][]string // id -> dependency ids, declared order, dangling dropped
}

func newDependencyGraph(s *graph.Snapshot) *dependencyGraph {
	g := &dependencyGraph{out: make(map[string][]string)}
	if s == nil {
		return g
	}

	for i := range s.Nodes {
		id := s.Nodes[i].ID
		if _, seen := g.out[id]; !seen {
			g.ids = append(g.ids, id)
			g.out[id] = nil
		}
	}
	sort.Strings(g.ids)

	for i := range s.Nodes {
		n := &s.Nodes[i]
		for _, dep := range n.Dependencies {
			if _, exists := g.out[dep]; !exists {
				continue
			}
			g.out[n.ID] = append(g.out[n.ID], dep)
		}
	}
	return g
}

// reverse returns dependents per node: for an arc a -> b, b maps to a.
func (g *dependencyGraph) reverse() map[string][]string {
	in := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		for _, dep := range g.out[id] {
			in[dep] = append(in[dep], id)
		}
	}
	return in
}

// Dependents returns the ids of nodes that list id as a dependency, ascending.
func Dependents(s *graph.Snapshot, id string) []string {
	g := newDependencyGraph(s)
	deps := g.reverse()[id]
	out := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
