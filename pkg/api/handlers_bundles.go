package api

import (
	"net/http"

	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

func (s *Server) handleCreateBundle(w http.ResponseWriter, r *http.Request) {
	var req BundleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, err, "create bundle")
		return
	}

	var b *graph.Bundle
	err := s.runMutation(r.Context(), func() error {
		var err error
		b, err = s.store.CreateBundle(req.AgentStatuses)
		return err
	})
	if err != nil {
		s.respondStoreError(w, r, err, "create bundle")
		return
	}

	s.archiveBundle(r, b)
	w.Header().Set("Location", "/bundles/"+b.ID)
	s.respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.ListBundles())
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, ok := s.store.RetrieveBundle(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "bundle not found: "+id)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

// handleRestoreBundle hands a bundle's agent statuses to the registry and
// re-stores its snapshot. The result is returned in full on every outcome:
// 200 on success, 404 for an unknown bundle and 422 for partial failure.
func (s *Server) handleRestoreBundle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, known := s.store.RetrieveBundle(id)

	result := s.store.RestoreBundle(id)
	switch {
	case !known:
		s.respondJSON(w, http.StatusNotFound, result)
	case !result.Success:
		s.respondJSON(w, http.StatusUnprocessableEntity, result)
	default:
		if b, ok := s.store.RetrieveBundle(id); ok && b.Snapshot != nil {
			s.archiveSnapshot(r, b.Snapshot.IntegrityHash)
		}
		s.respondJSON(w, http.StatusOK, result)
	}
}
