package api

import (
	"net/http"

	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// handleDiff diffs two stored versions, or two snapshots sent inline.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req DiffRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, err, "diff")
		return
	}

	var (
		d   diff.Diff
		err error
	)
	switch {
	case req.From != "" && req.To != "":
		d, err = s.store.DiffVersions(req.From, req.To)
	case req.Old != nil || req.New != nil:
		d = diff.Compute(snapshotOrEmpty(req.Old), snapshotOrEmpty(req.New))
	default:
		s.respondError(w, http.StatusBadRequest, "diff needs from and to hashes or old and new snapshots")
		return
	}
	if err != nil {
		s.respondStoreError(w, r, err, "diff")
		return
	}
	s.respondJSON(w, http.StatusOK, DiffResponse{Diff: d, Stats: d.Stats()})
}

// handleApply applies a diff to a stored base version and commits the
// result. Conflicting changes yield 409; an invalid result yields 422.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, err, "apply")
		return
	}
	if req.Base == "" {
		s.respondError(w, http.StatusBadRequest, "base hash is required")
		return
	}

	var (
		hash   string
		result validation.Result
	)
	err := s.runMutation(r.Context(), func() error {
		var err error
		hash, result, err = s.store.ApplyAndCommit(req.Base, req.Diff)
		return err
	})
	if err != nil {
		s.respondStoreError(w, r, err, "apply")
		return
	}

	s.archiveSnapshot(r, hash)
	version := req.Diff.ToVersion
	if snap, ok := s.store.Retrieve(hash); ok {
		version = snap.Version
	}
	w.Header().Set("Location", "/snapshots/"+hash)
	s.respondJSON(w, http.StatusCreated, CommitResponse{Hash: hash, Version: version, Validation: result})
}

// handleRollback returns the target version as a working snapshot and,
// when asked, commits it so it becomes the latest version again.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, err, "rollback")
		return
	}
	if req.Target == "" {
		s.respondError(w, http.StatusBadRequest, "target is required")
		return
	}

	var resp RollbackResponse
	err := s.runMutation(r.Context(), func() error {
		snap, err := s.store.Rollback(req.Target)
		if err != nil {
			return err
		}
		resp.Snapshot = snap
		if !req.Commit {
			return nil
		}
		resp.Hash, _, err = s.store.Commit(snap)
		if err != nil {
			return err
		}
		resp.Snapshot, _ = s.store.Retrieve(resp.Hash)
		return nil
	})
	if err != nil {
		s.respondStoreError(w, r, err, "rollback")
		return
	}

	if resp.Hash != "" {
		s.archiveSnapshot(r, resp.Hash)
		w.Header().Set("Location", "/snapshots/"+resp.Hash)
	}
	s.respondJSON(w, http.StatusOK, resp)
}
