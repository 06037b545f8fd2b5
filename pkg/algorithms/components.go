package algorithms

import (
	"sort"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// Component is a strongly connected set of nodes. Members are ascending.
type Component struct {
	ID      int
	Members []string
	// Cyclic is set when the members form a cycle: more than one member,
	// or a single member that depends on itself.
	Cyclic bool
}

// SCCResult holds the strongly connected components of a snapshot.
type SCCResult struct {
	Components     []Component
	NodeComponent  map[string]int
	Largest        *Component
	SingletonCount int
}

// CondensationEdge is an arc between two components of the condensation
// DAG, aggregating every dependency between their members.
type CondensationEdge struct {
	From  int
	To    int
	Count int
}

type tarjanState struct {
	index   int
	lowlink int
	onStack bool
}

// StronglyConnectedComponents runs Tarjan's algorithm over the dependency
// graph in O(V+E). Components are numbered in the order Tarjan closes
// them, which is a reverse topological order of the condensation: a
// component only depends on components with smaller ids.
func StronglyConnectedComponents(s *graph.Snapshot) *SCCResult {
	g := newDependencyGraph(s)
	state := make(map[string]*tarjanState, len(g.ids))
	result := &SCCResult{NodeComponent: make(map[string]int, len(g.ids))}
	var stack []string
	counter := 0

	var strongconnect func(u string)
	strongconnect = func(u string) {
		state[u] = &tarjanState{index: counter, lowlink: counter, onStack: true}
		counter++
		stack = append(stack, u)

		for _, v := range g.out[u] {
			if vs, seen := state[v]; !seen {
				strongconnect(v)
				if state[v].lowlink < state[u].lowlink {
					state[u].lowlink = state[v].lowlink
				}
			} else if vs.onStack && vs.index < state[u].lowlink {
				state[u].lowlink = vs.index
			}
		}

		if state[u].lowlink != state[u].index {
			return
		}
		id := len(result.Components)
		var members []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			state[w].onStack = false
			members = append(members, w)
			result.NodeComponent[w] = id
			if w == u {
				break
			}
		}
		sort.Strings(members)
		cyclic := len(members) > 1
		if !cyclic {
			for _, dep := range g.out[u] {
				cyclic = cyclic || dep == u
			}
		}
		result.Components = append(result.Components, Component{ID: id, Members: members, Cyclic: cyclic})
	}

	for _, id := range g.ids {
		if _, seen := state[id]; !seen {
			strongconnect(id)
		}
	}

	for i := range result.Components {
		c := &result.Components[i]
		if len(c.Members) == 1 {
			result.SingletonCount++
		}
		if result.Largest == nil || len(c.Members) > len(result.Largest.Members) {
			result.Largest = c
		}
	}
	return result
}

// CyclicComponents returns the components that contain a cycle.
func CyclicComponents(s *graph.Snapshot) []Component {
	var out []Component
	for _, c := range StronglyConnectedComponents(s).Components {
		if c.Cyclic {
			out = append(out, c)
		}
	}
	return out
}

// Condensation contracts each component to a single vertex and returns
// the arcs between them, ordered by (From, To).
func Condensation(s *graph.Snapshot, scc *SCCResult) []CondensationEdge {
	type key struct{ from, to int }
	counts := make(map[key]int)

	g := newDependencyGraph(s)
	for _, id := range g.ids {
		from, ok := scc.NodeComponent[id]
		if !ok {
			continue
		}
		for _, dep := range g.out[id] {
			to, ok := scc.NodeComponent[dep]
			if !ok || to == from {
				continue
			}
			counts[key{from, to}]++
		}
	}

	edges := make([]CondensationEdge, 0, len(counts))
	for k, n := range counts {
		edges = append(edges, CondensationEdge{From: k.from, To: k.to, Count: n})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}
