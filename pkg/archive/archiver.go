package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/codec"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/parallel"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

const (
	// DefaultTimeout bounds each backend call.
	DefaultTimeout = 30 * time.Second
	// DefaultConcurrency is the number of objects transferred at once.
	DefaultConcurrency = 4
)

// Archiver writes snapshots and bundles to a Backend as codec envelopes.
type Archiver struct {
	backend Backend
	timeout time.Duration
	metrics *metrics.Registry
	logger  logging.Logger
	workers int
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(a *Archiver) { a.timeout = d }
}

// WithConcurrency bounds how many objects Persist and LoadAll transfer at
// once. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(a *Archiver) { a.workers = max(n, 1) }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(a *Archiver) { a.metrics = r }
}

func WithLogger(l logging.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New creates an Archiver over backend.
func New(backend Backend, opts ...Option) *Archiver {
	a := &Archiver{
		backend: backend,
		timeout: DefaultTimeout,
		logger:  logging.NewNopLogger(),
		workers: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.Component("archive"), logging.String("backend", backend.Name()))
	return a
}

// Backend returns the underlying backend.
func (a *Archiver) Backend() Backend { return a.backend }

func (a *Archiver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Archiver) record(op string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordArchiveOperation(a.backend.Name(), op, err, time.Since(start))
	}
}

func (a *Archiver) put(ctx context.Context, op, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { a.record(op, start, err) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.backend.Put(ctx, key, data)
}

func (a *Archiver) get(ctx context.Context, op, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { a.record(op, start, err) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.backend.Get(ctx, key)
}

// SaveSnapshot stores snap under the key derived from its hash. The
// snapshot must carry its integrity hash.
func (a *Archiver) SaveSnapshot(ctx context.Context, snap *graph.Snapshot) error {
	if snap == nil {
		return graph.ErrNilSnapshot
	}
	if snap.IntegrityHash == "" {
		return fmt.Errorf("archive snapshot %s: missing integrity hash", snap.ID)
	}
	data, err := codec.EncodeSnapshot(codec.FormatEnvelope, snap)
	if err != nil {
		return err
	}
	if err := a.put(ctx, "save_snapshot", SnapshotKey(snap.IntegrityHash), data); err != nil {
		return fmt.Errorf("archive snapshot %s: %w", snap.IntegrityHash, err)
	}
	a.logger.Debug("snapshot archived", logging.Hash(snap.IntegrityHash), logging.Count(len(data)))
	return nil
}

// LoadSnapshot reads the snapshot stored for hash.
func (a *Archiver) LoadSnapshot(ctx context.Context, hash string) (*graph.Snapshot, error) {
	return a.loadSnapshotKey(ctx, SnapshotKey(hash))
}

func (a *Archiver) loadSnapshotKey(ctx context.Context, key string) (*graph.Snapshot, error) {
	data, err := a.get(ctx, "load_snapshot", key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	snap, err := codec.DecodeSnapshot(codec.FormatEnvelope, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return snap, nil
}

// SaveBundle stores b under its id.
func (a *Archiver) SaveBundle(ctx context.Context, b *graph.Bundle) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("archive bundle: %w", versionstore.ErrInvalidBundle)
	}
	data, err := codec.EncodeBundle(codec.FormatEnvelope, b)
	if err != nil {
		return err
	}
	if err := a.put(ctx, "save_bundle", BundleKey(b.ID), data); err != nil {
		return fmt.Errorf("archive bundle %s: %w", b.ID, err)
	}
	a.logger.Debug("bundle archived", logging.BundleID(b.ID), logging.Count(len(data)))
	return nil
}

// LoadBundle reads the bundle stored for id.
func (a *Archiver) LoadBundle(ctx context.Context, id string) (*graph.Bundle, error) {
	return a.loadBundleKey(ctx, BundleKey(id))
}

func (a *Archiver) loadBundleKey(ctx context.Context, key string) (*graph.Bundle, error) {
	data, err := a.get(ctx, "load_bundle", key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	b, err := codec.DecodeBundle(codec.FormatEnvelope, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return b, nil
}

// DeleteSnapshot removes the archived snapshot for hash.
func (a *Archiver) DeleteSnapshot(ctx context.Context, hash string) (err error) {
	start := time.Now()
	defer func() { a.record("delete", start, err) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.backend.Delete(ctx, SnapshotKey(hash))
}

func (a *Archiver) list(ctx context.Context, prefix string) (keys []string, err error) {
	start := time.Now()
	defer func() { a.record("list", start, err) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.backend.List(ctx, prefix)
}

// LoadAll reads every archived snapshot and bundle. Unreadable objects are
// skipped and reported together in the returned error.
func (a *Archiver) LoadAll(ctx context.Context) ([]*graph.Snapshot, []*graph.Bundle, error) {
	snapKeys, err := a.list(ctx, SnapshotPrefix)
	if err != nil {
		return nil, nil, err
	}
	snaps := make([]*graph.Snapshot, len(snapKeys))
	snapErr := parallel.ForEach(ctx, a.workers, snapKeys, func(ctx context.Context, i int, key string) error {
		var err error
		snaps[i], err = a.loadSnapshotKey(ctx, key)
		return err
	})

	bundleKeys, err := a.list(ctx, BundlePrefix)
	if err != nil {
		return nil, nil, err
	}
	bundles := make([]*graph.Bundle, len(bundleKeys))
	bundleErr := parallel.ForEach(ctx, a.workers, bundleKeys, func(ctx context.Context, i int, key string) error {
		var err error
		bundles[i], err = a.loadBundleKey(ctx, key)
		return err
	})

	return compact(snaps), compact(bundles), errors.Join(snapErr, bundleErr)
}

// compact drops the nil entries left by objects that failed to load.
func compact[T any](items []*T) []*T {
	out := items[:0]
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

// Hydrate loads the archive into store. Objects that fail to load or verify
// are skipped; the error reports them while the rest are kept.
func (a *Archiver) Hydrate(ctx context.Context, store *versionstore.Store) (int, int, error) {
	snaps, bundles, loadErr := a.LoadAll(ctx)
	if snaps == nil && loadErr != nil {
		return 0, 0, loadErr
	}
	nSnaps, nBundles, restoreErr := store.Restore(snaps, bundles)
	err := errors.Join(loadErr, restoreErr)
	if err != nil {
		a.logger.Warn("archive partially loaded", logging.Error(err))
	}
	a.logger.Info("archive loaded",
		logging.Int("snapshots", nSnaps),
		logging.Int("bundles", nBundles))
	return nSnaps, nBundles, err
}

// Persist writes every snapshot and bundle held by store.
func (a *Archiver) Persist(ctx context.Context, store *versionstore.Store) error {
	snapErr := parallel.ForEach(ctx, a.workers, store.Snapshots(), func(ctx context.Context, _ int, snap *graph.Snapshot) error {
		return a.SaveSnapshot(ctx, snap)
	})

	var bundles []*graph.Bundle
	for _, info := range store.ListBundles() {
		if b, ok := store.RetrieveBundle(info.ID); ok {
			bundles = append(bundles, b)
		}
	}
	bundleErr := parallel.ForEach(ctx, a.workers, bundles, func(ctx context.Context, _ int, b *graph.Bundle) error {
		return a.SaveBundle(ctx, b)
	})
	return errors.Join(snapErr, bundleErr)
}
