package algorithms

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// ErrCycleDetected is returned when an ordering is requested for a cyclic graph.
var ErrCycleDetected = errors.New("dependency cycle detected")

// stringHeap is a min-heap of ids, used to keep Kahn's algorithm deterministic.
type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder returns node ids so that every node comes after all of its
// dependencies (start order). Among ready nodes the smallest id goes first.
// A cyclic graph yields an error wrapping ErrCycleDetected naming one cycle.
func TopologicalOrder(s *graph.Snapshot) ([]string, error) {
	g := newDependencyGraph(s)

	// in-degree = number of distinct existing dependencies
	pending := make(map[string]int, len(g.ids))
	dependents := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		seen := make(map[string]struct{}, len(g.out[id]))
		for _, dep := range g.out[id] {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			pending[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &stringHeap{}
	for _, id := range g.ids {
		if pending[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		current := heap.Pop(ready).(string)
		order = append(order, current)
		for _, d := range dependents[current] {
			pending[d]--
			if pending[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	if len(order) != len(g.ids) {
		if c := FindCycle(s); c != nil {
			return nil, fmt.Errorf("%w: %v", ErrCycleDetected, c.Path())
		}
		return nil, ErrCycleDetected
	}
	return order, nil
}

// IsConnected reports whether every node is reachable from every other one
// when dependencies and edges are treated as undirected links. Empty and
// single-node graphs are connected.
func IsConnected(s *graph.Snapshot) bool {
	return len(ConnectedParts(s)) <= 1
}

// ConnectedParts splits the nodes into weakly connected parts, treating
// dependencies and edges as undirected links. Members of a part are
// ascending and parts are ordered by their smallest member.
func ConnectedParts(s *graph.Snapshot) [][]string {
	if s == nil || len(s.Nodes) == 0 {
		return nil
	}
	adj := undirectedLinks(s)
	g := newDependencyGraph(s)

	visited := make(map[string]bool, len(g.ids))
	var parts [][]string
	for _, root := range g.ids {
		if visited[root] {
			continue
		}
		visited[root] = true
		part := []string{root}
		queue := []string{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, next := range adj[current] {
				if !visited[next] {
					visited[next] = true
					part = append(part, next)
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(part)
		parts = append(parts, part)
	}
	return parts
}

// IsolatedNodes returns the ids of nodes with no dependency or edge touching
// them, ascending. Self links do not count.
func IsolatedNodes(s *graph.Snapshot) []string {
	if s == nil {
		return nil
	}
	adj := undirectedLinks(s)
	out := make([]string, 0)
	for _, id := range s.NodeIDs() {
		linked := false
		for _, other := range adj[id] {
			if other != id {
				linked = true
				break
			}
		}
		if !linked {
			out = append(out, id)
		}
	}
	return out
}

func undirectedLinks(s *graph.Snapshot) map[string][]string {
	g := newDependencyGraph(s)
	adj := make(map[string][]string, len(g.ids))
	link := func(a, b string) {
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for _, id := range g.ids {
		for _, dep := range g.out[id] {
			link(id, dep)
		}
	}
	for i := range s.Edges {
		e := &s.Edges[i]
		_, srcOK := g.out[e.Source]
		_, dstOK := g.out[e.Target]
		if srcOK && dstOK {
			link(e.Source, e.Target)
		}
	}
	return adj
}
