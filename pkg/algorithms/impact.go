package algorithms

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// Direction selects which arcs an impact traversal follows.
type Direction int

const (
	// Downstream follows dependents: the nodes that would be affected if
	// the source changed.
	Downstream Direction = iota
	// Upstream follows dependencies: the nodes the source relies on.
	Upstream
	// Both follows arcs either way.
	Both
)

// ImpactOptions configures Impact.
type ImpactOptions struct {
	MaxHops    int // 0 means unbounded
	Direction  Direction
	MaxResults int // 0 = unlimited; BFS order gives closer nodes priority
}

// ImpactResult holds the nodes reachable from a source, grouped by hop
// distance. The source itself is never included.
type ImpactResult struct {
	Source    string
	ByHop     map[int][]string
	Distances map[string]int
	Total     int
	// Truncated is set when MaxResults stopped the traversal.
	Truncated bool
}

// Nodes returns every reached node ordered by distance then id.
func (r *ImpactResult) Nodes() []string {
	out := make([]string, 0, r.Total)
	hops := make([]int, 0, len(r.ByHop))
	for h := range r.ByHop {
		hops = append(hops, h)
	}
	sort.Ints(hops)
	for _, h := range hops {
		out = append(out, r.ByHop[h]...)
	}
	return out
}

type bfsEntry struct {
	id  string
	hop int
}

// Impact performs a breadth-first traversal from source over the
// dependency graph. Each hop level is sorted so results are deterministic.
func Impact(s *graph.Snapshot, source string, opts ImpactOptions) (*ImpactResult, error) {
	if opts.MaxHops < 0 {
		return nil, fmt.Errorf("MaxHops must be >= 0, got %d", opts.MaxHops)
	}
	g := newDependencyGraph(s)
	if _, ok := g.out[source]; !ok {
		return nil, fmt.Errorf("node %q not found", source)
	}

	var in map[string][]string
	if opts.Direction != Upstream {
		in = g.reverse()
	}
	neighbours := func(id string) []string {
		var out []string
		if opts.Direction != Downstream {
			out = append(out, g.out[id]...)
		}
		if opts.Direction != Upstream {
			out = append(out, in[id]...)
		}
		sort.Strings(out)
		return out
	}

	result := &ImpactResult{
		Source:    source,
		ByHop:     make(map[int][]string),
		Distances: make(map[string]int),
	}
	visited := map[string]bool{source: true}
	queue := []bfsEntry{{id: source}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if opts.MaxHops > 0 && current.hop >= opts.MaxHops {
			continue
		}

		next := current.hop + 1
		for _, id := range neighbours(current.id) {
			if visited[id] {
				continue
			}
			visited[id] = true
			result.Distances[id] = next
			result.ByHop[next] = append(result.ByHop[next], id)
			result.Total++

			if opts.MaxResults > 0 && result.Total >= opts.MaxResults {
				result.Truncated = true
				return result.sorted(), nil
			}
			queue = append(queue, bfsEntry{id: id, hop: next})
		}
	}
	return result.sorted(), nil
}

func (r *ImpactResult) sorted() *ImpactResult {
	for _, ids := range r.ByHop {
		sort.Strings(ids)
	}
	return r
}
