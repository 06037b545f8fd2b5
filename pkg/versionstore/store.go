// Package versionstore keeps graph snapshots keyed by their content hash,
// together with the bundles that pair a snapshot with agent statuses.
//
// A Store is an explicitly owned value. Mutations hold the write lock for
// their whole duration, so an update is never observed half applied; reads
// share the read lock. Callers only ever receive clones.
package versionstore

import (
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// DefaultSource is the telemetry source of a store without WithSource.
const DefaultSource = "versionstore"

// Store is a content-addressed snapshot store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*graph.Snapshot
	bundles   map[string]*graph.Bundle
	lastStamp time.Time

	hasher    *hasher.Hasher
	validator *validation.Validator
	registry  AgentRegistry
	emitter   telemetry.Emitter
	metrics   *metrics.Registry
	logger    logging.Logger
	source    string
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHasher sets the hash algorithm used to key snapshots.
func WithHasher(h *hasher.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithValidator sets the validator used by Commit, Rollback and bundles.
func WithValidator(v *validation.Validator) Option {
	return func(s *Store) { s.validator = v }
}

// WithAgentRegistry sets the registry agent statuses are restored into.
func WithAgentRegistry(r AgentRegistry) Option {
	return func(s *Store) { s.registry = r }
}

// WithEmitter sets the telemetry sink.
func WithEmitter(e telemetry.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithMetrics records store metrics into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Store) { s.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSource sets the source identifier put on telemetry events.
func WithSource(source string) Option {
	return func(s *Store) { s.source = source }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		snapshots: make(map[string]*graph.Snapshot),
		bundles:   make(map[string]*graph.Bundle),
		source:    DefaultSource,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = hasher.Default()
	}
	if s.validator == nil {
		s.validator = validation.New()
	}
	if s.registry == nil {
		s.registry = NewMemoryRegistry()
	}
	if s.emitter == nil {
		s.emitter = telemetry.Nop{}
	}
	if s.logger == nil {
		s.logger = logging.NopLogger{}
	}
	s.logger = s.logger.With(logging.Component("versionstore"))
	return s
}

// SnapshotUpdate is a partial update. Nil fields are left unchanged.
// Metadata keys are merged; a nil value deletes the key.
type SnapshotUpdate struct {
	Version  *string
	Nodes    []graph.Node
	Edges    []graph.Edge
	Metadata graph.Metadata
}

func (u SnapshotUpdate) apply(s *graph.Snapshot) {
	if u.Version != nil {
		s.Version = *u.Version
	}
	if u.Nodes != nil {
		s.Nodes = make([]graph.Node, len(u.Nodes))
		for i := range u.Nodes {
			s.Nodes[i] = u.Nodes[i].Clone()
		}
	}
	if u.Edges != nil {
		s.Edges = make([]graph.Edge, len(u.Edges))
		for i := range u.Edges {
			s.Edges[i] = u.Edges[i].Clone()
		}
	}
	if len(u.Metadata) > 0 && s.Metadata == nil {
		s.Metadata = graph.Metadata{}
	}
	for k, v := range u.Metadata {
		if v == nil {
			delete(s.Metadata, k)
			continue
		}
		s.Metadata[k] = graph.CloneValue(v)
	}
}

// VersionInfo summarises one stored snapshot.
type VersionInfo struct {
	Hash             string                 `json:"hash"`
	ID               string                 `json:"id"`
	Version          string                 `json:"version"`
	Nodes            int                    `json:"nodes"`
	Edges            int                    `json:"edges"`
	ValidationStatus graph.ValidationStatus `json:"validation_status"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func infoOf(s *graph.Snapshot) VersionInfo {
	return VersionInfo{
		Hash:             s.IntegrityHash,
		ID:               s.ID,
		Version:          s.Version,
		Nodes:            len(s.Nodes),
		Edges:            len(s.Edges),
		ValidationStatus: s.ValidationStatus,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// stamp returns a timestamp strictly after every previous one so that
// Latest is well defined. Callers hold the write lock.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// Store computes the content hash of snap, stamps it and inserts a copy.
// Storing identical content again returns the same hash, keeps the first
// CreatedAt and refreshes UpdatedAt. The copy is stored pending whatever
// status snap carries; only Commit stamps a snapshot valid.
func (s *Store) Store(snap *graph.Snapshot) (string, error) {
	return s.put(snap, graph.ValidationPending)
}

// put stores snap with status and records the operation.
func (s *Store) put(snap *graph.Snapshot, status graph.ValidationStatus) (string, error) {
	start := time.Now()
	ev := s.event(telemetry.EventStore)

	hash, err := s.store(snap, status)
	if err != nil {
		s.finish("store", start, ev.Failed(err), err)
		return "", err
	}
	s.finish("store", start, ev.With(telemetry.AttrHash, hash).
		With(telemetry.AttrVersion, snap.Version).
		With(telemetry.AttrNodeCount, len(snap.Nodes)).
		With(telemetry.AttrEdgeCount, len(snap.Edges)), nil)
	return hash, nil
}

func (s *Store) store(snap *graph.Snapshot, status graph.ValidationStatus) (string, error) {
	if snap == nil {
		return "", graph.ErrNilSnapshot
	}
	hash, err := s.hasher.HashSnapshot(snap)
	if err != nil {
		return "", snapshotError("store", "", err)
	}

	c := snap.Clone()
	c.IntegrityHash = hash
	c.ValidationStatus = status

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(hash, c)
	return hash, nil
}

// insertLocked inserts c under hash with a fresh UpdatedAt.
func (s *Store) insertLocked(hash string, c *graph.Snapshot) {
	now := s.stamp()
	if prev, ok := s.snapshots[hash]; ok && !prev.CreatedAt.IsZero() {
		c.CreatedAt = prev.CreatedAt
		if prev.ValidationStatus == graph.ValidationValid && c.ValidationStatus == graph.ValidationPending {
			c.ValidationStatus = graph.ValidationValid
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.snapshots[hash] = c
	s.publishSizeLocked()
}

// Retrieve returns a copy of the snapshot stored under hash.
func (s *Store) Retrieve(hash string) (*graph.Snapshot, bool) {
	start := time.Now()
	s.mu.RLock()
	snap, ok := s.snapshots[hash]
	if ok {
		snap = snap.Clone()
	}
	s.mu.RUnlock()

	s.finish("retrieve", start, s.event(telemetry.EventRetrieve).
		With(telemetry.AttrHash, hash).
		With(telemetry.AttrFound, ok), nil)
	return snap, ok
}

// Update applies u to the snapshot stored under hash and re-keys it. The
// old key is removed in the same critical section as the new one is
// inserted. If the content hash does not change the key is kept.
func (s *Store) Update(hash string, u SnapshotUpdate) (string, error) {
	start := time.Now()
	ev := s.event(telemetry.EventUpdate).With(telemetry.AttrPrevHash, hash)

	newHash, err := s.update(hash, u)
	if err != nil {
		s.finish("update", start, ev.Failed(err), err)
		return "", err
	}
	s.finish("update", start, ev.With(telemetry.AttrHash, newHash), nil)
	return newHash, nil
}

func (s *Store) update(hash string, u SnapshotUpdate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.snapshots[hash]
	if !ok {
		return "", snapshotError("update", hash, ErrNotFound)
	}

	c := old.Clone()
	u.apply(c)
	newHash, err := s.hasher.HashSnapshot(c)
	if err != nil {
		return "", snapshotError("update", hash, err)
	}
	c.IntegrityHash = newHash

	if newHash != hash {
		c.ValidationStatus = graph.ValidationPending
		delete(s.snapshots, hash)
		if _, exists := s.snapshots[newHash]; !exists {
			c.CreatedAt = time.Time{}
		}
	}
	s.insertLocked(newHash, c)
	return newHash, nil
}

// Delete evicts the snapshot stored under hash.
func (s *Store) Delete(hash string) error {
	start := time.Now()
	ev := s.event(telemetry.EventDelete).With(telemetry.AttrHash, hash)

	s.mu.Lock()
	_, ok := s.snapshots[hash]
	if ok {
		delete(s.snapshots, hash)
		s.publishSizeLocked()
	}
	s.mu.Unlock()

	if !ok {
		err := snapshotError("delete", hash, ErrNotFound)
		s.finish("delete", start, ev.Failed(err), err)
		return err
	}
	s.finish("delete", start, ev, nil)
	return nil
}

// Latest returns a copy of the most recently updated snapshot, or
// graph.EmptySnapshot when the store is empty. Equal timestamps are broken
// by the smaller hash.
func (s *Store) Latest() *graph.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if latest := s.latestLocked(); latest != nil {
		return latest.Clone()
	}
	return graph.EmptySnapshot()
}

func (s *Store) latestLocked() *graph.Snapshot {
	var latest *graph.Snapshot
	for hash, snap := range s.snapshots {
		if latest == nil || newer(snap, latest, hash, latest.IntegrityHash) {
			latest = snap
		}
	}
	return latest
}

func newer(a, b *graph.Snapshot, hashA, hashB string) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return hashA < hashB
}

// List returns every stored version, newest first.
func (s *Store) List() []VersionInfo {
	s.mu.RLock()
	infos := make([]VersionInfo, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		infos = append(infos, infoOf(snap))
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].Hash < infos[j].Hash
	})
	return infos
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Hasher returns the hasher used to key snapshots.
func (s *Store) Hasher() *hasher.Hasher {
	return s.hasher
}

// Validator returns the validator used by the store.
func (s *Store) Validator() *validation.Validator {
	return s.validator
}

func (s *Store) publishSizeLocked() {
	if s.metrics != nil {
		s.metrics.SetStoreSize(len(s.snapshots), len(s.bundles))
	}
}

func (s *Store) event(t telemetry.EventType) telemetry.Event {
	return telemetry.NewEvent(t, s.source)
}

// finish emits ev and records the operation metrics.
func (s *Store) finish(op string, start time.Time, ev telemetry.Event, err error) {
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(op, err, elapsed)
	}
	s.emitter.Emit(ev.With(telemetry.AttrDuration, float64(elapsed.Microseconds())/1000))

	if err != nil {
		s.logger.Warn(op+" failed",
			logging.Operation(op),
			logging.CorrelationID(ev.CorrelationID),
			logging.Error(err))
		return
	}
	s.logger.Debug(op,
		logging.Operation(op),
		logging.CorrelationID(ev.CorrelationID),
		logging.Latency(elapsed))
}
