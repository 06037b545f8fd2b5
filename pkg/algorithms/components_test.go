package algorithms

import (
	"reflect"
	"testing"
)

func TestStronglyConnectedComponents(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {"a", "ghost"},
		"e": {"e"},
		"f": nil,
	})
	result := StronglyConnectedComponents(s)

	if len(result.Components) != 4 {
		t.Fatalf("got %d components, want 4: %+v", len(result.Components), result.Components)
	}
	if result.SingletonCount != 3 {
		t.Errorf("SingletonCount = %d, want 3", result.SingletonCount)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(result.Largest.Members, want) {
		t.Errorf("Largest = %v, want %v", result.Largest.Members, want)
	}
	if result.NodeComponent["a"] != result.NodeComponent["c"] {
		t.Error("a and c should share a component")
	}
	if _, ok := result.NodeComponent["ghost"]; ok {
		t.Error("dangling dependency should not form a component")
	}

	cyclic := map[string]bool{}
	for _, c := range result.Components {
		cyclic[c.Members[0]] = c.Cyclic
	}
	want := map[string]bool{"a": true, "d": false, "e": true, "f": false}
	if !reflect.DeepEqual(cyclic, want) {
		t.Errorf("cyclic = %v, want %v", cyclic, want)
	}
}

func TestStronglyConnectedComponents_DAG(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"gw":     {"api"},
		"api":    {"db", "cache"},
		"worker": {"db"},
		"db":     nil,
		"cache":  nil,
	})
	result := StronglyConnectedComponents(s)
	if len(result.Components) != 5 || result.SingletonCount != 5 {
		t.Errorf("a DAG has one singleton per node, got %+v", result.Components)
	}
	if got := CyclicComponents(s); len(got) != 0 {
		t.Errorf("CyclicComponents() = %v, want none", got)
	}

	edges := Condensation(s, result)
	if len(edges) != 4 {
		t.Fatalf("got %d condensation edges, want 4", len(edges))
	}
	for _, e := range edges {
		if e.From <= e.To {
			t.Errorf("edge %+v: a component should only depend on lower ids", e)
		}
	}
}

func TestCondensation_AggregatesEdges(t *testing.T) {
	s := depSnapshot(map[string][]string{
		"a": {"b", "x"},
		"b": {"a", "y"},
		"x": {"y"},
		"y": {"x"},
	})
	result := StronglyConnectedComponents(s)
	if len(result.Components) != 2 {
		t.Fatalf("components = %+v", result.Components)
	}
	edges := Condensation(s, result)
	if len(edges) != 1 || edges[0].Count != 2 {
		t.Errorf("Condensation() = %+v, want one edge of count 2", edges)
	}
	if len(CyclicComponents(s)) != 2 {
		t.Error("both components are cyclic")
	}
}

func TestStronglyConnectedComponents_Empty(t *testing.T) {
	result := StronglyConnectedComponents(nil)
	if len(result.Components) != 0 || result.Largest != nil {
		t.Errorf("empty snapshot result = %+v", result)
	}
}
