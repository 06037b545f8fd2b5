package api

import (
	"net/http"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// handleValidate checks a snapshot without storing it. The verdict is
// always returned with 200; clients branch on its "ok" field.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	snap, err := decodeSnapshot(r)
	if err != nil {
		s.respondStoreError(w, r, err, "validate")
		return
	}
	s.respondJSON(w, http.StatusOK, s.store.Validate(snap))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	snap, err := decodeSnapshot(r)
	if err != nil {
		s.respondStoreError(w, r, err, "commit")
		return
	}

	var (
		hash   string
		result validation.Result
	)
	err = s.runMutation(r.Context(), func() error {
		var err error
		hash, result, err = s.store.Commit(snap)
		return err
	})
	if err != nil {
		s.respondStoreError(w, r, err, "commit")
		return
	}

	s.archiveSnapshot(r, hash)
	w.Header().Set("Location", "/snapshots/"+hash)
	s.respondJSON(w, http.StatusCreated, CommitResponse{Hash: hash, Version: snap.Version, Validation: result})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	all := s.store.List()
	versions := []versionstore.VersionInfo{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		versions = all[offset:end]
	}
	s.respondJSON(w, http.StatusOK, VersionListResponse{
		Versions: versions,
		Total:    len(all),
		Offset:   offset,
		Limit:    limit,
	})
}

// handleLatest returns the most recently updated snapshot, or the empty
// snapshot when nothing is stored.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, r, s.store.Latest())
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	snap, ok := s.store.Retrieve(hash)
	if !ok {
		s.respondError(w, http.StatusNotFound, "snapshot not found: "+hash)
		return
	}
	s.respondSnapshot(w, r, snap)
}

func (s *Server) handleUpdateSnapshot(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	var req UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, err, "update")
		return
	}

	var newHash string
	err := s.runMutation(r.Context(), func() error {
		var err error
		newHash, err = s.store.Update(hash, versionstore.SnapshotUpdate{
			Version:  req.Version,
			Nodes:    req.Nodes,
			Edges:    req.Edges,
			Metadata: req.Metadata,
		})
		return err
	})
	if err != nil {
		s.respondStoreError(w, r, err, "update")
		return
	}

	if newHash != hash {
		s.unarchiveSnapshot(r, hash)
	}
	s.archiveSnapshot(r, newHash)
	s.respondJSON(w, http.StatusOK, UpdateResponse{PreviousHash: hash, Hash: newHash})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	err := s.runMutation(r.Context(), func() error {
		return s.store.Delete(hash)
	})
	if err != nil {
		s.respondStoreError(w, r, err, "delete")
		return
	}
	s.unarchiveSnapshot(r, hash)
	w.WriteHeader(http.StatusNoContent)
}

// snapshotOrEmpty keeps nil snapshots from reaching the diff engine.
func snapshotOrEmpty(s *graph.Snapshot) *graph.Snapshot {
	if s == nil {
		return graph.EmptySnapshot()
	}
	return s
}
