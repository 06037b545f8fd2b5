package algorithms

import (
	"reflect"
	"sort"
	"testing"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

// depSnapshot builds a snapshot from "id -> dependencies" pairs.
func depSnapshot(deps map[string][]string) *graph.Snapshot {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, graph.Node{
			ID:           id,
			Kind:         graph.KindService,
			Role:         "worker",
			Status:       graph.StatusActive,
			Dependencies: deps[id],
		})
	}
	return graph.NewSnapshot("s", "v1", nodes, nil)
}

// TestHasCycle_NoCycles tests a linear chain A -> B -> C
func TestHasCycle_NoCycles(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
	})
	if HasCycle(s) {
		t.Error("expected no cycle in a chain")
	}
	if !IsDAG(s) {
		t.Error("chain should be a DAG")
	}
	if c := FindCycle(s); c != nil {
		t.Errorf("FindCycle() = %v, want nil", c)
	}
}

// TestHasCycle_Diamond tests that shared dependencies are not mistaken for cycles
func TestHasCycle_Diamond(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"top":   {"left", "right"},
		"left":  {"base"},
		"right": {"base"},
		"base":  nil,
	})
	if HasCycle(s) {
		t.Error("diamond is acyclic")
	}
	if cycles := DetectCycles(s); len(cycles) != 0 {
		t.Errorf("DetectCycles() = %v, want none", cycles)
	}
}

// TestHasCycle_MutualDependency tests A depends on B, B depends on A
func TestHasCycle_MutualDependency(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	if !HasCycle(s) {
		t.Fatal("expected a cycle")
	}
	got := FindCycle(s)
	if !reflect.DeepEqual(got, Cycle{"a", "b"}) {
		t.Errorf("FindCycle() = %v, want [a b]", got)
	}
	if path := got.Path(); !reflect.DeepEqual(path, []string{"a", "b", "a"}) {
		t.Errorf("Path() = %v", path)
	}
}

// TestHasCycle_SelfDependency tests a node listing itself
func TestHasCycle_SelfDependency(t *testing.T) {
	s := depSnapshot(map[string][]string{"solo": {"solo"}})

	got := FindCycle(s)
	if !reflect.DeepEqual(got, Cycle{"solo"}) {
		t.Fatalf("FindCycle() = %v, want [solo]", got)
	}
	stats := AnalyzeCycles(DetectCycles(s))
	if stats.SelfLoops != 1 {
		t.Errorf("SelfLoops = %d, want 1", stats.SelfLoops)
	}
}

// TestHasCycle_DanglingDependency tests that missing ids are treated as absent
func TestHasCycle_DanglingDependency(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"ghost", "b"},
		"b": {"phantom"},
	})
	if HasCycle(s) {
		t.Error("dangling references must not create cycles")
	}
}

// TestFindCycle_Triangle tests a three node cycle reached from an acyclic prefix
func TestFindCycle_Triangle(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"entry": {"x"},
		"x":     {"y"},
		"y":     {"z"},
		"z":     {"x"},
	})

	got := FindCycle(s)
	if !reflect.DeepEqual(got, Cycle{"x", "y", "z"}) {
		t.Errorf("FindCycle() = %v, want [x y z]", got)
	}
}

// TestFindCycle_Deterministic tests that node order in the snapshot does not
// change the reported witness
func TestFindCycle_Deterministic(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"p": {"q"},
		"q": {"r"},
		"r": {"p"},
	})
	want := FindCycle(s)

	reversed := s.Clone()
	for i, j := 0, len(reversed.Nodes)-1; i < j; i, j = i+1, j-1 {
		reversed.Nodes[i], reversed.Nodes[j] = reversed.Nodes[j], reversed.Nodes[i]
	}
	if got := FindCycle(reversed); !reflect.DeepEqual(got, want) {
		t.Errorf("FindCycle() after reorder = %v, want %v", got, want)
	}
}

// TestDetectCycles_Disconnected tests cycles in separate components
func TestDetectCycles_Disconnected(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"d"},
		"d": {"e"},
		"e": {"c"},
		"f": nil,
	})

	cycles := DetectCycles(s)
	if len(cycles) != 2 {
		t.Fatalf("DetectCycles() = %v, want 2 cycles", cycles)
	}

	stats := AnalyzeCycles(cycles)
	if stats.TotalCycles != 2 || stats.ShortestCycle != 2 || stats.LongestCycle != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.AverageLength != 2.5 {
		t.Errorf("AverageLength = %v, want 2.5", stats.AverageLength)
	}
}

// TestDetectCycles_DuplicateDependency tests that repeated dependency ids
// report the cycle once
func TestDetectCycles_DuplicateDependency(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b", "b"},
		"b": {"a"},
	})
	if got := DetectCycles(s); len(got) != 1 {
		t.Errorf("DetectCycles() = %v, want 1 cycle", got)
	}
}

// TestDetectCyclesWithOptions tests length and predicate filters
func TestDetectCyclesWithOptions(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"self": {"self"},
		"a":    {"b"},
		"b":    {"a"},
		"x":    {"y"},
		"y":    {"z"},
		"z":    {"x"},
	})
	for i := range s.Nodes {
		if s.Nodes[i].ID == "y" {
			s.Nodes[i].Status = graph.StatusError
		}
	}

	tests := []struct {
		name string
		opts CycleDetectionOptions
		want int
	}{
		{"all", CycleDetectionOptions{}, 3},
		{"min length 2", CycleDetectionOptions{MinCycleLength: 2}, 2},
		{"max length 2", CycleDetectionOptions{MaxCycleLength: 2}, 2},
		{"only active", CycleDetectionOptions{NodePredicate: func(n graph.Node) bool {
			return n.Status == graph.StatusActive
		}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCyclesWithOptions(s, tt.opts); len(got) != tt.want {
				t.Errorf("got %d cycles (%v), want %d", len(got), got, tt.want)
			}
		})
	}
}

// TestHasCycle_Empty tests empty and nil snapshots
func TestHasCycle_Empty(t *testing.T) {
	if HasCycle(graph.EmptySnapshot()) {
		t.Error("empty snapshot has no cycle")
	}
	if HasCycle(nil) {
		t.Error("nil snapshot has no cycle")
	}
	if stats := AnalyzeCycles(nil); stats != (CycleStats{}) {
		t.Errorf("AnalyzeCycles(nil) = %+v", stats)
	}
}

// TestHasCycle_DeepChain tests a long chain does not blow up
func TestHasCycle_DeepChain(t *testing.T) {
	const n = 5000
	nodes := make([]graph.Node, n)
	for i := 0; i < n; i++ {
		nodes[i] = graph.Node{ID: nodeName(i), Kind: graph.KindAgent, Role: "r"}
		if i+1 < n {
			nodes[i].Dependencies = []string{nodeName(i + 1)}
		}
	}
	s := graph.NewSnapshot("deep", "v1", nodes, nil)
	if HasCycle(s) {
		t.Fatal("chain reported as cyclic")
	}

	s.Nodes[n-1].Dependencies = []string{nodeName(0)}
	if !HasCycle(s) {
		t.Fatal("closing the chain should create a cycle")
	}
	if c := FindCycle(s); len(c) != n {
		t.Errorf("cycle length = %d, want %d", len(c), n)
	}
}

func nodeName(i int) string {
	const digits = "0123456789"
	b := []byte("n00000")
	for pos := len(b) - 1; i > 0 && pos > 0; pos-- {
		b[pos] = digits[i%10]
		i /= 10
	}
	return string(b)
}

// BenchmarkHasCycle benchmarks cycle detection on a wide layered DAG
func BenchmarkHasCycle(b *testing.B) {
	const layers, width = 50, 40
	nodes := make([]graph.Node, 0, layers*width)
	for l := 0; l < layers; l++ {
		for w := 0; w < width; w++ {
			n := graph.Node{ID: nodeName(l*width + w), Kind: graph.KindService, Role: "r"}
			if l+1 < layers {
				n.Dependencies = []string{nodeName((l+1)*width + w), nodeName((l+1)*width + (w+1)%width)}
			}
			nodes = append(nodes, n)
		}
	}
	s := graph.NewSnapshot("bench", "v1", nodes, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HasCycle(s)
	}
}
