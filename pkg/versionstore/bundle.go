package versionstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/google/uuid"
)

// AgentRegistry receives agent statuses handed back by RestoreBundle.
type AgentRegistry interface {
	RestoreAgent(status graph.AgentStatus) error
}

// AgentRegistryFunc adapts a function to AgentRegistry.
type AgentRegistryFunc func(graph.AgentStatus) error

func (f AgentRegistryFunc) RestoreAgent(status graph.AgentStatus) error { return f(status) }

// MemoryRegistry is an in-memory AgentRegistry. It is the default registry
// of a Store.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]graph.AgentStatus
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{agents: make(map[string]graph.AgentStatus)}
}

func (r *MemoryRegistry) RestoreAgent(status graph.AgentStatus) error {
	if status.ID == "" {
		return fmt.Errorf("agent status has no id")
	}
	r.mu.Lock()
	r.agents[status.ID] = status.Clone()
	r.mu.Unlock()
	return nil
}

// Get returns the last restored status of an agent.
func (r *MemoryRegistry) Get(id string) (graph.AgentStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return graph.AgentStatus{}, false
	}
	return a.Clone(), true
}

// Agents returns every known status sorted by id.
func (r *MemoryRegistry) Agents() []graph.AgentStatus {
	r.mu.RLock()
	out := make([]graph.AgentStatus, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RestoreResult reports a bundle restore. Success is true only when Errors
// is empty.
type RestoreResult struct {
	BundleID    string   `json:"bundle_id"`
	Success     bool     `json:"success"`
	RestoredIDs []string `json:"restored_ids"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
}

// BundleInfo summarises one stored bundle.
type BundleInfo struct {
	ID           string    `json:"id"`
	SnapshotHash string    `json:"snapshot_hash"`
	Version      string    `json:"version"`
	Agents       int       `json:"agents"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateBundle pairs the latest snapshot with statuses, hashes and
// validates the bundle, and stores it. A bundle that fails validation is not
// stored and is reported as a *BundleValidationError.
func (s *Store) CreateBundle(statuses []graph.AgentStatus) (*graph.Bundle, error) {
	start := time.Now()
	ev := s.event(telemetry.EventSnapshot)

	b, err := s.createBundle(statuses)
	if err != nil {
		s.finish("create_bundle", start, ev.Failed(err), err)
		return nil, err
	}
	s.finish("create_bundle", start, ev.
		With(telemetry.AttrBundleID, b.ID).
		With(telemetry.AttrHash, b.IntegrityHash).
		With(telemetry.AttrVersion, b.Snapshot.Version), nil)
	return b, nil
}

func (s *Store) createBundle(statuses []graph.AgentStatus) (*graph.Bundle, error) {
	b := &graph.Bundle{
		ID:            uuid.New().String(),
		Snapshot:      s.Latest(),
		AgentStatuses: make([]graph.AgentStatus, len(statuses)),
		CreatedAt:     s.now().UTC(),
	}
	for i := range statuses {
		b.AgentStatuses[i] = statuses[i].Clone()
	}

	hash, err := s.hasher.HashBundle(b)
	if err != nil {
		return nil, bundleError("create", b.ID, err)
	}
	b.IntegrityHash = hash

	r := s.validator.ValidateBundle(b)
	if s.metrics != nil {
		s.metrics.RecordValidation("bundle", r.OK, string(r.Type()))
	}
	if !r.OK {
		return nil, &BundleValidationError{BundleID: b.ID, Result: r}
	}

	s.mu.Lock()
	s.bundles[b.ID] = b
	s.publishSizeLocked()
	s.mu.Unlock()
	return b.Clone(), nil
}

// RetrieveBundle returns a copy of a stored bundle.
func (s *Store) RetrieveBundle(id string) (*graph.Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// ListBundles returns every stored bundle, newest first.
func (s *Store) ListBundles() []BundleInfo {
	s.mu.RLock()
	infos := make([]BundleInfo, 0, len(s.bundles))
	for _, b := range s.bundles {
		info := BundleInfo{
			ID:        b.ID,
			Agents:    len(b.AgentStatuses),
			Hash:      b.IntegrityHash,
			CreatedAt: b.CreatedAt,
		}
		if b.Snapshot != nil {
			info.SnapshotHash = b.Snapshot.IntegrityHash
			info.Version = b.Snapshot.Version
		}
		infos = append(infos, info)
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// RestoreBundle validates a stored bundle and hands each agent status to
// the agent registry. A failing status is recorded in Errors and the rest
// are still processed. Statuses in the error state are restored with a
// warning. The bundle's snapshot is stored back into the version history.
func (s *Store) RestoreBundle(id string) RestoreResult {
	start := time.Now()
	ev := s.event(telemetry.EventRestore).With(telemetry.AttrBundleID, id)

	res := s.restoreBundle(id)

	ev = ev.With(telemetry.AttrRestored, len(res.RestoredIDs)).
		With(telemetry.AttrWarnings, len(res.Warnings))
	var err error
	if !res.Success {
		err = fmt.Errorf("restore bundle %s: %d errors", id, len(res.Errors))
		ev = ev.Failed(err).With(telemetry.AttrReason, res.Errors[0])
	}
	s.finish("restore_bundle", start, ev, err)
	return res
}

func (s *Store) restoreBundle(id string) RestoreResult {
	res := RestoreResult{
		BundleID:    id,
		RestoredIDs: []string{},
		Errors:      []string{},
		Warnings:    []string{},
	}

	b, ok := s.RetrieveBundle(id)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("bundle not found: %s", id))
		return res
	}

	r := s.validator.ValidateBundle(b)
	if s.metrics != nil {
		s.metrics.RecordValidation("bundle", r.OK, string(r.Type()))
	}
	if !r.OK {
		res.Errors = append(res.Errors, fmt.Sprintf("bundle validation failed: %s", r.Reason))
		return res
	}

	for _, a := range b.AgentStatuses {
		err := s.registry.RestoreAgent(a.Clone())
		if s.metrics != nil {
			s.metrics.RecordRestoredAgent(err)
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("agent %s: %v", a.ID, err))
			s.logger.Warn("agent restore failed", logging.BundleID(id), logging.String("agent", a.ID), logging.Error(err))
			continue
		}
		res.RestoredIDs = append(res.RestoredIDs, a.ID)
		if a.Status == graph.StatusError {
			res.Warnings = append(res.Warnings, fmt.Sprintf("agent %s restored in error state", a.ID))
		}
	}

	if b.Snapshot.ID != graph.EmptySnapshotID {
		if _, err := s.store(b.Snapshot, graph.ValidationValid); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("snapshot: %v", err))
		}
	}

	res.Success = len(res.Errors) == 0
	return res
}
