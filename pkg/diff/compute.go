package diff

import (
	"bytes"
	"reflect"
	"sort"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/google/uuid"
)

// Compute returns the changes that turn prev into next. A nil snapshot is
// treated as empty. Payloads are deep copies, so the diff does not alias
// either input.
func Compute(prev, next *graph.Snapshot) Diff {
	if prev == nil {
		prev = &graph.Snapshot{}
	}
	if next == nil {
		next = &graph.Snapshot{}
	}

	d := Diff{
		ID:          uuid.New().String(),
		FromVersion: prev.Version,
		ToVersion:   next.Version,
		Changes:     make([]Change, 0),
		CreatedAt:   time.Now().UTC(),
	}

	d.Changes = append(d.Changes, diffNodes(prev.Nodes, next.Nodes)...)
	d.Changes = append(d.Changes, diffEdges(prev.Edges, next.Edges)...)
	d.Changes = append(d.Changes, diffMetadata(prev.Metadata, next.Metadata)...)
	return d
}

// Equal reports whether two snapshots have no structural difference.
func Equal(a, b *graph.Snapshot) bool {
	return Compute(a, b).IsEmpty()
}

// keyed splits two id sets into added, common and removed ids, each ascending.
func keyed[T any](prev, next map[string]T) (added, common, removed []string) {
	for id := range next {
		if _, ok := prev[id]; ok {
			common = append(common, id)
		} else {
			added = append(added, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(common)
	sort.Strings(removed)
	return added, common, removed
}

func diffNodes(prev, next []graph.Node) []Change {
	oldByID := indexNodes(prev)
	newByID := indexNodes(next)
	added, common, removed := keyed(oldByID, newByID)

	changes := make([]Change, 0, len(added)+len(removed))
	for _, id := range added {
		n := newByID[id].Clone()
		changes = append(changes, Change{Kind: Add, Target: TargetNode, ID: id, Node: &n})
	}
	for _, id := range common {
		if !sameContent(oldByID[id], newByID[id], hasher.CanonicalNode) {
			n := newByID[id].Clone()
			changes = append(changes, Change{Kind: Modify, Target: TargetNode, ID: id, Node: &n})
		}
	}
	for _, id := range removed {
		changes = append(changes, Change{Kind: Remove, Target: TargetNode, ID: id})
	}
	return changes
}

func diffEdges(prev, next []graph.Edge) []Change {
	oldByID := indexEdges(prev)
	newByID := indexEdges(next)
	added, common, removed := keyed(oldByID, newByID)

	changes := make([]Change, 0, len(added)+len(removed))
	for _, id := range added {
		e := newByID[id].Clone()
		changes = append(changes, Change{Kind: Add, Target: TargetEdge, ID: id, Edge: &e})
	}
	for _, id := range common {
		if !sameContent(oldByID[id], newByID[id], hasher.CanonicalEdge) {
			e := newByID[id].Clone()
			changes = append(changes, Change{Kind: Modify, Target: TargetEdge, ID: id, Edge: &e})
		}
	}
	for _, id := range removed {
		changes = append(changes, Change{Kind: Remove, Target: TargetEdge, ID: id})
	}
	return changes
}

func diffMetadata(prev, next graph.Metadata) []Change {
	added, common, removed := keyed(prev, next)

	changes := make([]Change, 0, len(added)+len(removed))
	for _, k := range added {
		changes = append(changes, Change{Kind: Add, Target: TargetMetadata, ID: k, Value: graph.CloneValue(next[k])})
	}
	for _, k := range common {
		if !sameContent(prev[k], next[k], hasher.CanonicalValue) {
			changes = append(changes, Change{Kind: Modify, Target: TargetMetadata, ID: k, Value: graph.CloneValue(next[k])})
		}
	}
	for _, k := range removed {
		changes = append(changes, Change{Kind: Remove, Target: TargetMetadata, ID: k})
	}
	return changes
}

// sameContent compares canonical encodings, falling back to deep equality
// for values that cannot be encoded.
func sameContent[T any](a, b T, encode func(T) ([]byte, error)) bool {
	ea, errA := encode(a)
	eb, errB := encode(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ea, eb)
}

// indexNodes maps id to node. With duplicate ids the last one wins; such
// snapshots never pass validation.
func indexNodes(nodes []graph.Node) map[string]graph.Node {
	m := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

func indexEdges(edges []graph.Edge) map[string]graph.Edge {
	m := make(map[string]graph.Edge, len(edges))
	for _, e := range edges {
		m[e.ID] = e
	}
	return m
}
