package hasher

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomSnapshot builds a deterministic pseudo-random acyclic snapshot.
func randomSnapshot(size int, seed int64) *graph.Snapshot {
	r := rand.New(rand.NewSource(seed))
	kinds := []graph.NodeKind{graph.KindAgent, graph.KindService, graph.KindGateway}
	edgeKinds := []graph.EdgeKind{graph.EdgeData, graph.EdgeControl, graph.EdgeEvent}

	nodes := make([]graph.Node, size)
	for i := range nodes {
		n := graph.Node{
			ID:       fmt.Sprintf("n%03d", i),
			Kind:     kinds[r.Intn(len(kinds))],
			Role:     fmt.Sprintf("role-%d", r.Intn(5)),
			Status:   graph.StatusActive,
			Metadata: graph.Metadata{"replicas": r.Intn(4), "zone": fmt.Sprintf("z%d", r.Intn(3))},
		}
		if i > 0 {
			n.Dependencies = []string{fmt.Sprintf("n%03d", r.Intn(i))}
		}
		nodes[i] = n
	}

	var edges []graph.Edge
	for i := 1; i < size; i++ {
		edges = append(edges, graph.Edge{
			ID:     fmt.Sprintf("e%03d", i),
			Source: nodes[i].ID,
			Target: nodes[i].Dependencies[0],
			Kind:   edgeKinds[r.Intn(len(edgeKinds))],
		})
	}
	return graph.NewSnapshot("rand", "v1", nodes, edges)
}

func TestCanonicalize_Deterministic(t *testing.T) {
	s := randomSnapshot(12, 7)
	a, err := Canonicalize(s)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize(s)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding is not deterministic")
	}
}

func TestCanonicalize_Nil(t *testing.T) {
	if _, err := Canonicalize(nil); !errors.Is(err, graph.ErrNilSnapshot) {
		t.Errorf("Canonicalize(nil) error = %v, want ErrNilSnapshot", err)
	}
}

func TestHashSnapshot_PermutationInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	h := Default()

	properties.Property("shuffling nodes and edges keeps the hash", prop.ForAll(
		func(size int, seed int64) bool {
			s := randomSnapshot(size, seed)
			want, err := h.HashSnapshot(s)
			if err != nil {
				return false
			}

			shuffled := s.Clone()
			r := rand.New(rand.NewSource(seed + 1))
			r.Shuffle(len(shuffled.Nodes), func(i, j int) {
				shuffled.Nodes[i], shuffled.Nodes[j] = shuffled.Nodes[j], shuffled.Nodes[i]
			})
			r.Shuffle(len(shuffled.Edges), func(i, j int) {
				shuffled.Edges[i], shuffled.Edges[j] = shuffled.Edges[j], shuffled.Edges[i]
			})

			got, err := h.HashSnapshot(shuffled)
			return err == nil && got == want
		},
		gen.IntRange(1, 30),
		gen.Int64(),
	))

	properties.Property("hashing twice is stable", prop.ForAll(
		func(size int, seed int64) bool {
			s := randomSnapshot(size, seed)
			a, errA := h.HashSnapshot(s)
			b, errB := h.HashSnapshot(s)
			return errA == nil && errB == nil && a == b
		},
		gen.IntRange(0, 30),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestHashSnapshot_ContentBinding(t *testing.T) {
	h := Default()
	base := randomSnapshot(5, 42)
	baseHash, err := h.HashSnapshot(base)
	if err != nil {
		t.Fatalf("HashSnapshot: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(s *graph.Snapshot)
		changes bool
	}{
		{"version label", func(s *graph.Snapshot) { s.Version = "v2" }, true},
		{"node role", func(s *graph.Snapshot) { s.Nodes[2].Role = "other" }, true},
		{"node metadata", func(s *graph.Snapshot) { s.Nodes[0].Metadata["zone"] = "zz" }, true},
		{"dependency order", func(s *graph.Snapshot) {
			s.Nodes[4].Dependencies = append(s.Nodes[4].Dependencies, "n000")
			s.Nodes[4].Dependencies[0], s.Nodes[4].Dependencies[1] = s.Nodes[4].Dependencies[1], s.Nodes[4].Dependencies[0]
		}, true},
		{"edge kind", func(s *graph.Snapshot) { s.Edges[0].Kind = graph.EdgeEvent + "x" }, true},
		{"snapshot id", func(s *graph.Snapshot) { s.ID = "renamed" }, false},
		{"snapshot metadata", func(s *graph.Snapshot) { s.Metadata["note"] = "x" }, false},
		{"timestamps", func(s *graph.Snapshot) { s.UpdatedAt = time.Unix(0, 0) }, false},
		{"stamped hash", func(s *graph.Snapshot) { s.IntegrityHash = "sha256:whatever" }, false},
		{"validation status", func(s *graph.Snapshot) { s.ValidationStatus = graph.ValidationInvalid }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base.Clone()
			tt.mutate(s)
			got, err := h.HashSnapshot(s)
			if err != nil {
				t.Fatalf("HashSnapshot: %v", err)
			}
			if changed := got != baseHash; changed != tt.changes {
				t.Errorf("hash changed = %v, want %v", changed, tt.changes)
			}
		})
	}
}

func TestHashSnapshot_SurvivesJSONRoundTrip(t *testing.T) {
	h := Default()
	s := randomSnapshot(8, 3)
	want, _ := h.HashSnapshot(s)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded graph.Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	got, err := h.HashSnapshot(&decoded)
	if err != nil {
		t.Fatalf("HashSnapshot: %v", err)
	}
	if got != want {
		t.Errorf("hash after round trip = %s, want %s", got, want)
	}
}

func TestAlgorithms(t *testing.T) {
	s := randomSnapshot(4, 1)

	sha, err := New(SHA256)
	if err != nil {
		t.Fatalf("New(SHA256): %v", err)
	}
	blake, err := New(BLAKE2b256)
	if err != nil {
		t.Fatalf("New(BLAKE2b256): %v", err)
	}

	a, _ := sha.HashSnapshot(s)
	b, _ := blake.HashSnapshot(s)

	if !strings.HasPrefix(a, "sha256:") || !strings.HasPrefix(b, "blake2b-256:") {
		t.Errorf("unexpected prefixes: %s / %s", a, b)
	}
	if a[strings.Index(a, ":")+1:] == b[strings.Index(b, ":")+1:] {
		t.Error("different algorithms produced the same digest")
	}

	if _, err := New("crc32"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("New(crc32) error = %v", err)
	}
}

func TestParseHash(t *testing.T) {
	good := Default().Sum([]byte("x"))

	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"valid", good, nil},
		{"no separator", "abcdef", ErrMalformedHash},
		{"unknown algorithm", "md5:" + strings.Repeat("a", 64), ErrUnknownAlgorithm},
		{"short digest", "sha256:abcd", ErrMalformedHash},
		{"not hex", "sha256:" + strings.Repeat("z", 64), ErrMalformedHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseHash(tt.value)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySnapshot_DetectsTampering(t *testing.T) {
	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			h, _ := New(alg)
			s := randomSnapshot(6, 11)
			stamped, err := h.HashSnapshot(s)
			if err != nil {
				t.Fatalf("HashSnapshot: %v", err)
			}
			s.IntegrityHash = stamped

			ok, computed, err := VerifySnapshot(s)
			if err != nil || !ok || computed != stamped {
				t.Fatalf("VerifySnapshot on intact snapshot = %v, %s, %v", ok, computed, err)
			}

			s.Nodes[3].Status = graph.StatusError
			ok, computed, err = VerifySnapshot(s)
			if err != nil {
				t.Fatalf("VerifySnapshot: %v", err)
			}
			if ok || computed == stamped {
				t.Error("tampered snapshot verified as intact")
			}
		})
	}
}

func TestHashBundle(t *testing.T) {
	h := Default()
	b := &graph.Bundle{
		ID:       "b1",
		Snapshot: randomSnapshot(3, 5),
		AgentStatuses: []graph.AgentStatus{
			{ID: "a2", Status: graph.StatusActive, Uptime: 10},
			{ID: "a1", Status: graph.StatusInactive, Uptime: 0},
		},
	}

	first, err := h.HashBundle(b)
	if err != nil {
		t.Fatalf("HashBundle: %v", err)
	}

	reordered := b.Clone()
	reordered.AgentStatuses[0], reordered.AgentStatuses[1] = reordered.AgentStatuses[1], reordered.AgentStatuses[0]
	if got, _ := h.HashBundle(reordered); got != first {
		t.Error("status order changed the bundle hash")
	}

	stale := b.Clone()
	stale.Snapshot.IntegrityHash = "sha256:" + strings.Repeat("0", 64)
	if got, _ := h.HashBundle(stale); got != first {
		t.Error("stamped snapshot hash leaked into the bundle hash")
	}

	changed := b.Clone()
	changed.AgentStatuses[0].Uptime = 11
	if got, _ := h.HashBundle(changed); got == first {
		t.Error("status change did not change the bundle hash")
	}

	b.IntegrityHash = first
	if ok, _, err := VerifyBundle(b); err != nil || !ok {
		t.Errorf("VerifyBundle = %v, %v", ok, err)
	}

	if _, err := h.HashBundle(nil); !errors.Is(err, ErrNilBundle) {
		t.Errorf("HashBundle(nil) error = %v", err)
	}
}
