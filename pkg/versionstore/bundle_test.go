package versionstore

import (
	"errors"
	"testing"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statuses() []graph.AgentStatus {
	return []graph.AgentStatus{
		{ID: "planner", Status: graph.StatusActive, Uptime: 120, LastEvent: graph.Metadata{"type": "heartbeat"}},
		{ID: "critic", Status: graph.StatusError, Uptime: 3},
	}
}

func TestRestoreBundle_NotFound(t *testing.T) {
	s, rec := newTestStore(t)

	res := s.RestoreBundle("nope")

	assert.False(t, res.Success)
	assert.Equal(t, []string{"bundle not found: nope"}, res.Errors)
	assert.Equal(t, []string{}, res.RestoredIDs)
	assert.Empty(t, res.Warnings)

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventRestore})
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.StatusFailure, events[0].Status)
	assert.Equal(t, "bundle not found: nope", events[0].Attr(telemetry.AttrReason))
}

func TestCreateBundle(t *testing.T) {
	s, rec := newTestStore(t)
	hash, err := s.Store(topology("1"))
	require.NoError(t, err)

	b, err := s.CreateBundle(statuses())
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.NotEmpty(t, b.IntegrityHash)
	assert.Equal(t, hash, b.Snapshot.IntegrityHash)
	assert.Len(t, b.AgentStatuses, 2)
	assert.True(t, s.Validator().ValidateBundle(b).OK)

	stored, ok := s.RetrieveBundle(b.ID)
	require.True(t, ok)
	assert.Equal(t, b.IntegrityHash, stored.IntegrityHash)

	stored.AgentStatuses[0].Status = graph.StatusInactive
	again, _ := s.RetrieveBundle(b.ID)
	assert.Equal(t, graph.StatusActive, again.AgentStatuses[0].Status, "RetrieveBundle must return a copy")

	infos := s.ListBundles()
	require.Len(t, infos, 1)
	assert.Equal(t, hash, infos[0].SnapshotHash)
	assert.Equal(t, 2, infos[0].Agents)

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventSnapshot})
	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].Attr(telemetry.AttrBundleID))
}

func TestCreateBundle_EmptyStore(t *testing.T) {
	s, _ := newTestStore(t)

	b, err := s.CreateBundle(nil)
	require.NoError(t, err)
	assert.Equal(t, graph.EmptySnapshotID, b.Snapshot.ID)

	res := s.RestoreBundle(b.ID)
	assert.True(t, res.Success)
	assert.Equal(t, 0, s.Len(), "the empty default snapshot is not stored")
}

func TestCreateBundle_InvalidStatus(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Store(topology("1"))

	_, err := s.CreateBundle([]graph.AgentStatus{{ID: "planner", Status: "sleeping"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBundle)

	var bve *BundleValidationError
	require.ErrorAs(t, err, &bve)
	assert.Equal(t, validation.FailureInvalidAgentStatus, bve.Result.Type())
	assert.Empty(t, s.ListBundles())
}

func TestRestoreBundle(t *testing.T) {
	reg := NewMemoryRegistry()
	s, rec := newTestStore(t, WithAgentRegistry(reg))
	hash, _ := s.Store(topology("1"))
	b, err := s.CreateBundle(statuses())
	require.NoError(t, err)

	// The snapshot was evicted after bundling; restore brings it back.
	require.NoError(t, s.Delete(hash))

	res := s.RestoreBundle(b.ID)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"planner", "critic"}, res.RestoredIDs)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"agent critic restored in error state"}, res.Warnings)

	planner, ok := reg.Get("planner")
	require.True(t, ok)
	assert.Equal(t, 120.0, planner.Uptime)
	assert.Len(t, reg.Agents(), 2)

	_, ok = s.Retrieve(hash)
	assert.True(t, ok, "bundle snapshot must be back in the history")

	events := rec.Events(&telemetry.Filter{Type: telemetry.EventRestore})
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.StatusSuccess, events[0].Status)
	assert.Equal(t, "2", events[0].Attr(telemetry.AttrRestored))
}

func TestRestoreBundle_PartialFailure(t *testing.T) {
	var seen []string
	reg := AgentRegistryFunc(func(a graph.AgentStatus) error {
		seen = append(seen, a.ID)
		if a.ID == "planner" {
			return errors.New("registry offline")
		}
		return nil
	})
	s, _ := newTestStore(t, WithAgentRegistry(reg))
	_, _ = s.Store(topology("1"))
	b, err := s.CreateBundle(statuses())
	require.NoError(t, err)

	res := s.RestoreBundle(b.ID)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"planner", "critic"}, seen, "processing must continue after a failure")
	assert.Equal(t, []string{"critic"}, res.RestoredIDs)
	assert.Equal(t, []string{"agent planner: registry offline"}, res.Errors)
	assert.Len(t, res.Warnings, 1)
}

func TestRestoreBundle_Tampered(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Store(topology("1"))
	b, err := s.CreateBundle(statuses())
	require.NoError(t, err)

	// Corrupt the stored copy directly.
	s.mu.Lock()
	s.bundles[b.ID].AgentStatuses[0].Uptime = 9999
	s.mu.Unlock()

	res := s.RestoreBundle(b.ID)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bundle validation failed")
	assert.Contains(t, res.Errors[0], "hash mismatch")
	assert.Empty(t, res.RestoredIDs)
}

func TestMemoryRegistry_RejectsEmptyID(t *testing.T) {
	reg := NewMemoryRegistry()
	assert.Error(t, reg.RestoreAgent(graph.AgentStatus{}))
	_, ok := reg.Get("missing")
	assert.False(t, ok)
}
