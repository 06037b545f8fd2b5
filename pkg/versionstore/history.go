package versionstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// Validate runs the store's validator over snap and reports the verdict.
func (s *Store) Validate(snap *graph.Snapshot) validation.Result {
	start := time.Now()
	r := s.validate("snapshot", snap)

	ev := s.event(telemetry.EventValidate)
	if snap != nil {
		ev = ev.With(telemetry.AttrVersion, snap.Version)
	}
	if !r.OK {
		ev = ev.Failed(nil).
			With(telemetry.AttrReason, r.Reason).
			With(telemetry.AttrFailure, string(r.Type()))
	}
	s.emitter.Emit(ev.With(telemetry.AttrDuration, float64(time.Since(start).Microseconds())/1000))
	return r
}

func (s *Store) validate(subject string, snap *graph.Snapshot) validation.Result {
	r := s.validator.Validate(snap)
	if s.metrics != nil {
		s.metrics.RecordValidation(subject, r.OK, string(r.Type()))
	}
	return r
}

// Commit validates snap and, when it passes, stores it stamped valid. A
// rejected snapshot is returned as a *ValidationError together with the
// failing Result.
func (s *Store) Commit(snap *graph.Snapshot) (string, validation.Result, error) {
	r := s.Validate(snap)
	if !r.OK {
		return "", r, &ValidationError{Op: "commit", Result: r}
	}

	hash, err := s.put(snap, graph.ValidationValid)
	if err != nil {
		return "", r, err
	}
	return hash, r, nil
}

// DiffVersions computes the diff between two stored snapshots.
func (s *Store) DiffVersions(fromHash, toHash string) (diff.Diff, error) {
	ev := s.event(telemetry.EventDiff).
		With(telemetry.AttrPrevHash, fromHash).
		With(telemetry.AttrHash, toHash)

	d, err := s.diffVersions(fromHash, toHash)
	s.recordDiff("compute", err, d)
	if err != nil {
		s.emitter.Emit(ev.Failed(err))
		return diff.Diff{}, err
	}
	s.emitter.Emit(ev.With(telemetry.AttrDiffID, d.ID).With(telemetry.AttrChanges, len(d.Changes)))
	return d, nil
}

func (s *Store) diffVersions(fromHash, toHash string) (diff.Diff, error) {
	from, ok := s.snapshot(fromHash)
	if !ok {
		return diff.Diff{}, snapshotError("diff", fromHash, ErrNotFound)
	}
	to, ok := s.snapshot(toHash)
	if !ok {
		return diff.Diff{}, snapshotError("diff", toHash, ErrNotFound)
	}
	d := diff.Compute(from, to)
	d.FromHash = fromHash
	d.ToHash = toHash
	return d, nil
}

// ApplyAndCommit applies d to the snapshot stored under baseHash, validates
// the result and stores it. Apply failures are *diff.ApplyError values and
// validation failures are *ValidationError values.
func (s *Store) ApplyAndCommit(baseHash string, d diff.Diff) (string, validation.Result, error) {
	ev := s.event(telemetry.EventApply).
		With(telemetry.AttrPrevHash, baseHash).
		With(telemetry.AttrDiffID, d.ID).
		With(telemetry.AttrChanges, len(d.Changes))

	base, ok := s.snapshot(baseHash)
	if !ok {
		err := snapshotError("apply", baseHash, ErrNotFound)
		s.recordDiff("apply", err, diff.Diff{})
		s.emitter.Emit(ev.Failed(err))
		return "", validation.Result{}, err
	}

	next, err := diff.Apply(base, d)
	s.recordDiff("apply", err, d)
	if err != nil {
		s.emitter.Emit(ev.Failed(err))
		return "", validation.Result{}, err
	}

	hash, r, err := s.Commit(next)
	if err != nil {
		s.emitter.Emit(ev.Failed(err))
		return "", r, err
	}
	s.emitter.Emit(ev.With(telemetry.AttrHash, hash))
	return hash, r, nil
}

// Rollback returns the target version as a new working snapshot. target is
// a hash key, or a version label naming the most recently updated snapshot
// carrying it. The snapshot is re-validated; the store's history is left
// untouched.
func (s *Store) Rollback(target string) (*graph.Snapshot, error) {
	start := time.Now()
	ev := s.event(telemetry.EventRollback).With(telemetry.AttrTarget, target)

	snap, err := s.rollback(target)
	if err != nil {
		s.finish("rollback", start, ev.Failed(err), err)
		return nil, err
	}
	s.finish("rollback", start, ev.
		With(telemetry.AttrHash, snap.IntegrityHash).
		With(telemetry.AttrVersion, snap.Version), nil)
	return snap, nil
}

func (s *Store) rollback(target string) (*graph.Snapshot, error) {
	snap, ok := s.findVersion(target)
	if !ok {
		return nil, &RollbackError{Target: target, Cause: ErrVersionNotFound}
	}
	r := s.validate("snapshot", snap)
	if !r.OK {
		return nil, &RollbackError{Target: target, Result: &r, Cause: ErrInvalidSnapshot}
	}
	return snap, nil
}

// findVersion resolves a hash key or version label to a snapshot copy.
func (s *Store) findVersion(target string) (*graph.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if snap, ok := s.snapshots[target]; ok {
		return snap.Clone(), true
	}
	var best *graph.Snapshot
	for hash, snap := range s.snapshots {
		if snap.Version != target {
			continue
		}
		if best == nil || newer(snap, best, hash, best.IntegrityHash) {
			best = snap
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// Restore loads previously stored snapshots and bundles, keeping their
// timestamps and statuses. Entries whose declared hash does not match their
// content are skipped and reported in the returned error; the rest are
// loaded. It returns the number of snapshots and bundles loaded.
func (s *Store) Restore(snapshots []*graph.Snapshot, bundles []*graph.Bundle) (int, int, error) {
	var errs []error
	loadedSnaps, loadedBundles := 0, 0

	s.mu.Lock()
	for _, snap := range snapshots {
		hash, err := s.verifiedHash(snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c := snap.Clone()
		c.IntegrityHash = hash
		if c.ValidationStatus == "" {
			c.ValidationStatus = graph.ValidationPending
		}
		s.snapshots[hash] = c
		if c.UpdatedAt.After(s.lastStamp) {
			s.lastStamp = c.UpdatedAt
		}
		loadedSnaps++
	}
	for _, b := range bundles {
		if b == nil || b.ID == "" {
			errs = append(errs, bundleError("restore", "", ErrInvalidBundle))
			continue
		}
		if b.IntegrityHash != "" {
			ok, _, err := hasher.VerifyBundle(b)
			if err != nil || !ok {
				errs = append(errs, bundleError("restore", b.ID, fmt.Errorf("%w: hash mismatch", ErrInvalidBundle)))
				continue
			}
		}
		s.bundles[b.ID] = b.Clone()
		loadedBundles++
	}
	s.publishSizeLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordStoreOperation("restore", errors.Join(errs...), 0)
	}
	return loadedSnaps, loadedBundles, errors.Join(errs...)
}

// verifiedHash returns the content hash of snap, checking it against the
// stamped hash when one is present.
func (s *Store) verifiedHash(snap *graph.Snapshot) (string, error) {
	if snap == nil {
		return "", snapshotError("restore", "", graph.ErrNilSnapshot)
	}
	if snap.IntegrityHash == "" {
		h, err := s.hasher.HashSnapshot(snap)
		if err != nil {
			return "", snapshotError("restore", snap.ID, err)
		}
		return h, nil
	}
	ok, computed, err := hasher.VerifySnapshot(snap)
	if err != nil {
		return "", snapshotError("restore", snap.IntegrityHash, err)
	}
	if !ok {
		return "", &StoreError{Op: "restore", Entity: "snapshot", ID: snap.IntegrityHash,
			Cause: ErrInvalidSnapshot, Context: "computed " + computed}
	}
	return computed, nil
}

// Snapshots returns copies of every stored snapshot, for persistence.
func (s *Store) Snapshots() []*graph.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	return out
}

func (s *Store) snapshot(hash string) (*graph.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[hash]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

func (s *Store) recordDiff(op string, err error, d diff.Diff) {
	if s.metrics == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, c := range d.Changes {
		counts[[2]string{string(c.Kind), string(c.Target)}]++
	}
	s.metrics.RecordDiff(op, err, counts)
}
