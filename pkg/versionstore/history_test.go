package versionstore

import (
	"testing"

	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cyclic() *graph.Snapshot {
	return graph.NewSnapshot("cyclic", "1",
		[]graph.Node{
			{ID: "A", Kind: graph.KindAgent, Role: "a", Dependencies: []string{"B"}},
			{ID: "B", Kind: graph.KindAgent, Role: "b", Dependencies: []string{"A"}},
		},
		[]graph.Edge{})
}

func TestCommit(t *testing.T) {
	s, rec := newTestStore(t)

	hash, r, err := s.Commit(topology("1"))
	require.NoError(t, err)
	assert.True(t, r.OK)

	got, ok := s.Retrieve(hash)
	require.True(t, ok)
	assert.Equal(t, graph.ValidationValid, got.ValidationStatus)

	// A later plain Store of the same content keeps the valid stamp.
	_, _ = s.Store(topology("1"))
	got, _ = s.Retrieve(hash)
	assert.Equal(t, graph.ValidationValid, got.ValidationStatus)

	assert.Len(t, rec.Events(&telemetry.Filter{Type: telemetry.EventValidate}), 1)
}

func TestCommit_RejectsCycle(t *testing.T) {
	s, rec := newTestStore(t)

	hash, r, err := s.Commit(cyclic())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.Empty(t, hash)
	assert.False(t, r.OK)
	assert.Equal(t, validation.FailureCycleDetected, r.Type())
	assert.Contains(t, r.Reason, "cycle")
	assert.Equal(t, 0, s.Len())

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "commit", ve.Op)

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventValidate, Status: telemetry.StatusFailure})
	require.Len(t, events, 1)
	assert.Equal(t, string(validation.FailureCycleDetected), events[0].Attr(telemetry.AttrFailure))
}

func TestCommit_DetectsTamper(t *testing.T) {
	s, _ := newTestStore(t)
	hash, _, err := s.Commit(topology("1"))
	require.NoError(t, err)

	tampered, _ := s.Retrieve(hash)
	tampered.Nodes[1].Role = "exfiltrator"

	_, r, err := s.Commit(tampered)
	require.Error(t, err)
	assert.Equal(t, validation.FailureHashMismatch, r.Type())
}

func TestDiffVersions(t *testing.T) {
	s, rec := newTestStore(t)
	h1, _ := s.Store(topology("1"))

	next := topology("2")
	next.Nodes = append(next.Nodes, graph.Node{ID: "critic", Kind: graph.KindAgent, Role: "critic", Dependencies: []string{"planner"}})
	next.Nodes[0].Status = graph.StatusInactive
	h2, _ := s.Store(next)

	d, err := s.DiffVersions(h1, h2)
	require.NoError(t, err)
	assert.Equal(t, h1, d.FromHash)
	assert.Equal(t, h2, d.ToHash)
	assert.Equal(t, "1", d.FromVersion)
	assert.Equal(t, "2", d.ToVersion)
	assert.Equal(t, diff.Stats{Added: 1, Modified: 1}, d.Stats())

	_, err = s.DiffVersions(h1, "sha256:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventDiff})
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Attr(telemetry.AttrChanges))
	assert.Equal(t, telemetry.StatusFailure, events[1].Status)
}

// TestScenario_AddNodeAndEdge stores S0 = [A], applies "add node B, add edge
// A->B" through the store, and checks the diff back reproduces both adds.
func TestScenario_AddNodeAndEdge(t *testing.T) {
	s, _ := newTestStore(t)
	s0 := graph.NewSnapshot("s", "0",
		[]graph.Node{{ID: "A", Kind: graph.KindAgent, Role: "root"}}, []graph.Edge{})
	h0, _, err := s.Commit(s0)
	require.NoError(t, err)

	b := graph.Node{ID: "B", Kind: graph.KindService, Role: "leaf"}
	ab := graph.Edge{ID: "A->B", Source: "A", Target: "B", Kind: graph.EdgeData}
	d := diff.Diff{ToVersion: "1", Changes: []diff.Change{
		{Kind: diff.Add, Target: diff.TargetNode, ID: "B", Node: &b},
		{Kind: diff.Add, Target: diff.TargetEdge, ID: "A->B", Edge: &ab},
	}}

	h1, r, err := s.ApplyAndCommit(h0, d)
	require.NoError(t, err)
	assert.True(t, r.OK)

	result, _ := s.Retrieve(h1)
	assert.ElementsMatch(t, []string{"A", "B"}, result.NodeIDs())
	assert.Equal(t, []string{"A->B"}, result.EdgeIDs())

	back, err := s.DiffVersions(h0, h1)
	require.NoError(t, err)
	require.Len(t, back.Changes, 2)
	assert.Equal(t, "add node B", back.Changes[0].String())
	assert.Equal(t, "add edge A->B", back.Changes[1].String())
}

func TestApplyAndCommit_Failures(t *testing.T) {
	s, _ := newTestStore(t)
	h0, _, _ := s.Commit(topology("1"))

	_, _, err := s.ApplyAndCommit("sha256:missing", diff.Diff{})
	assert.ErrorIs(t, err, ErrNotFound)

	dup := graph.Node{ID: "gw", Kind: graph.KindGateway, Role: "again"}
	_, _, err = s.ApplyAndCommit(h0, diff.Diff{Changes: []diff.Change{
		{Kind: diff.Add, Target: diff.TargetNode, ID: "gw", Node: &dup},
	}})
	assert.ErrorIs(t, err, diff.ErrDuplicateID)
	var ae *diff.ApplyError
	assert.ErrorAs(t, err, &ae)

	// Applies cleanly but leaves a dangling edge, which validation rejects.
	_, r, err := s.ApplyAndCommit(h0, diff.Diff{Changes: []diff.Change{
		{Kind: diff.Remove, Target: diff.TargetNode, ID: "planner"},
	}})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.Equal(t, validation.FailureDanglingReference, r.Type())
	assert.Equal(t, 1, s.Len())
}

func TestRollback(t *testing.T) {
	s, rec := newTestStore(t)
	h1, _, _ := s.Commit(topology("1"))
	_, _, _ = s.Commit(topology("2"))

	byHash, err := s.Rollback(h1)
	require.NoError(t, err)
	assert.Equal(t, "1", byHash.Version)

	byLabel, err := s.Rollback("1")
	require.NoError(t, err)
	assert.Equal(t, h1, byLabel.IntegrityHash)

	assert.Equal(t, 2, s.Len(), "rollback must not change history")
	assert.Equal(t, "2", s.Latest().Version)

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventRollback})
	require.Len(t, events, 2)
	assert.Equal(t, h1, events[0].Attr(telemetry.AttrHash))
}

func TestRollback_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Rollback("v404")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	var re *RollbackError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "v404", re.Target)
	assert.Nil(t, re.Result)
}

func TestRollback_InvalidTarget(t *testing.T) {
	s, _ := newTestStore(t)
	// Plain Store does not validate, so a cyclic snapshot can be in history.
	hash, err := s.Store(cyclic())
	require.NoError(t, err)

	_, err = s.Rollback(hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	var re *RollbackError
	require.ErrorAs(t, err, &re)
	require.NotNil(t, re.Result)
	assert.Equal(t, validation.FailureCycleDetected, re.Result.Type())
}

func TestRestore(t *testing.T) {
	src, _ := newTestStore(t)
	h1, _, _ := src.Commit(topology("1"))
	h2, _, _ := src.Commit(topology("2"))
	b, err := src.CreateBundle(statuses())
	require.NoError(t, err)

	snaps := src.Snapshots()
	tampered := topology("3")
	tampered.IntegrityHash = h1
	snaps = append(snaps, tampered)

	dst, _ := newTestStore(t)
	nSnaps, nBundles, err := dst.Restore(snaps, []*graph.Bundle{b})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.Equal(t, 2, nSnaps)
	assert.Equal(t, 1, nBundles)

	assert.Equal(t, h2, dst.Latest().IntegrityHash)
	restored, _ := dst.Retrieve(h1)
	assert.Equal(t, graph.ValidationValid, restored.ValidationStatus)

	// New writes still sort after restored ones.
	h4, _ := dst.Store(topology("4"))
	assert.Equal(t, h4, dst.Latest().IntegrityHash)

	res := dst.RestoreBundle(b.ID)
	assert.True(t, res.Success)
}
