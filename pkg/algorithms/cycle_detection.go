package algorithms

import (
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// Cycle is a detected cycle as a sequence of node ids. The last node depends
// on the first one. A self-dependency is a cycle of length one.
type Cycle []string

// Path returns the cycle closed on its first node, e.g. [a b a].
func (c Cycle) Path() []string {
	if len(c) == 0 {
		return nil
	}
	out := make([]string, 0, len(c)+1)
	out = append(out, c...)
	return append(out, c[0])
}

// DFS colouring:
//   - white: unvisited
//   - gray: on the recursion stack
//   - black: finished, every descendant explored
//
// Reaching a gray node means a back edge, which closes a cycle.
type color uint8

const (
	white color = iota
	gray
	black
)

// HasCycle reports whether the dependency graph of s contains a cycle.
// Dangling dependencies are ignored. Runs in O(V+E).
func HasCycle(s *graph.Snapshot) bool {
	return FindCycle(s) != nil
}

// IsDAG is the negation of HasCycle.
func IsDAG(s *graph.Snapshot) bool {
	return !HasCycle(s)
}

// FindCycle returns the first cycle found, or nil when the graph is acyclic.
// Roots are tried in ascending id order, so the witness is deterministic.
func FindCycle(s *graph.Snapshot) Cycle {
	g := newDependencyGraph(s)
	colors := make(map[string]color, len(g.ids))
	parent := make(map[string]string)

	for _, id := range g.ids {
		if colors[id] != white {
			continue
		}
		if c := findCycleDFS(g, id, colors, parent); c != nil {
			return c
		}
	}
	return nil
}

func findCycleDFS(g *dependencyGraph, id string, colors map[string]color, parent map[string]string) Cycle {
	colors[id] = gray

	for _, next := range g.out[id] {
		switch colors[next] {
		case white:
			parent[next] = id
			if c := findCycleDFS(g, next, colors, parent); c != nil {
				return c
			}
		case gray:
			return extractCycle(next, id, parent)
		}
	}

	colors[id] = black
	return nil
}

// DetectCycles returns one cycle per back edge found by a full DFS. Every
// cyclic strongly connected region yields at least one entry.
func DetectCycles(s *graph.Snapshot) []Cycle {
	g := newDependencyGraph(s)
	colors := make(map[string]color, len(g.ids))
	parent := make(map[string]string)
	cycles := make([]Cycle, 0)

	for _, id := range g.ids {
		if colors[id] == white {
			dfsDetectCycle(g, id, colors, parent, &cycles)
		}
	}
	return cycles
}

func dfsDetectCycle(g *dependencyGraph, id string, colors map[string]color, parent map[string]string, cycles *[]Cycle) {
	colors[id] = gray

	seen := make(map[string]struct{}, len(g.out[id]))
	for _, next := range g.out[id] {
		if _, dup := seen[next]; dup {
			continue
		}
		seen[next] = struct{}{}

		switch colors[next] {
		case white:
			parent[next] = id
			dfsDetectCycle(g, next, colors, parent, cycles)
		case gray:
			*cycles = append(*cycles, extractCycle(next, id, parent))
		}
		// black: cross or forward edge
	}

	colors[id] = black
}

// extractCycle rebuilds the cycle closed by the back edge end -> start by
// following parent pointers from end up to start.
func extractCycle(start, end string, parent map[string]string) Cycle {
	reversed := Cycle{end}
	for current := end; current != start; {
		p, ok := parent[current]
		if !ok {
			break
		}
		reversed = append(reversed, p)
		current = p
	}

	cycle := make(Cycle, len(reversed))
	for i := range reversed {
		cycle[i] = reversed[len(reversed)-1-i]
	}
	return cycle
}

// CycleDetectionOptions filters the result of DetectCyclesWithOptions.
type CycleDetectionOptions struct {
	MinCycleLength int                   // 0 = no minimum
	MaxCycleLength int                   // 0 = unlimited
	NodePredicate  func(graph.Node) bool // keep cycles whose nodes all match
}

// DetectCyclesWithOptions returns the cycles matching opts.
func DetectCyclesWithOptions(s *graph.Snapshot, opts CycleDetectionOptions) []Cycle {
	all := DetectCycles(s)
	if s == nil {
		return all
	}
	idx := s.NodeIndex()

	filtered := make([]Cycle, 0, len(all))
	for _, c := range all {
		if opts.MinCycleLength > 0 && len(c) < opts.MinCycleLength {
			continue
		}
		if opts.MaxCycleLength > 0 && len(c) > opts.MaxCycleLength {
			continue
		}
		if opts.NodePredicate != nil {
			match := true
			for _, id := range c {
				if !opts.NodePredicate(s.Nodes[idx[id]]) {
					match = false
					break
				}
			}
			if !match {
				continue
			}
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// CycleStats summarises a set of cycles.
type CycleStats struct {
	TotalCycles   int
	ShortestCycle int
	LongestCycle  int
	AverageLength float64
	SelfLoops     int
}

// AnalyzeCycles computes statistics about detected cycles.
func AnalyzeCycles(cycles []Cycle) CycleStats {
	if len(cycles) == 0 {
		return CycleStats{}
	}

	stats := CycleStats{
		TotalCycles:   len(cycles),
		ShortestCycle: len(cycles[0]),
		LongestCycle:  len(cycles[0]),
	}

	total := 0
	for _, c := range cycles {
		n := len(c)
		total += n
		if n == 1 {
			stats.SelfLoops++
		}
		if n < stats.ShortestCycle {
			stats.ShortestCycle = n
		}
		if n > stats.LongestCycle {
			stats.LongestCycle = n
		}
	}

	stats.AverageLength = float64(total) / float64(len(cycles))
	return stats
}
