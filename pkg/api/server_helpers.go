package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dd0wney/cluso-dagvc/pkg/api/middleware"
	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
)

// archiveSnapshot persists the snapshot stored under hash. Archive
// failures are logged; the in-memory store stays authoritative.
func (s *Server) archiveSnapshot(r *http.Request, hash string) {
	if s.archiver == nil {
		return
	}
	snap, ok := s.store.Retrieve(hash)
	if !ok {
		return
	}
	if err := s.archiver.SaveSnapshot(context.WithoutCancel(r.Context()), snap); err != nil {
		s.logger.Warn("failed to archive snapshot",
			logging.Hash(hash), logging.Error(err),
			logging.CorrelationID(middleware.GetRequestID(r)))
	}
}

func (s *Server) archiveBundle(r *http.Request, b *graph.Bundle) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.SaveBundle(context.WithoutCancel(r.Context()), b); err != nil {
		s.logger.Warn("failed to archive bundle",
			logging.BundleID(b.ID), logging.Error(err),
			logging.CorrelationID(middleware.GetRequestID(r)))
	}
}

func (s *Server) unarchiveSnapshot(r *http.Request, hash string) {
	if s.archiver == nil {
		return
	}
	err := s.archiver.DeleteSnapshot(context.WithoutCancel(r.Context()), hash)
	if err != nil && !errors.Is(err, archive.ErrNotFound) {
		s.logger.Warn("failed to remove archived snapshot",
			logging.Hash(hash), logging.Error(err),
			logging.CorrelationID(middleware.GetRequestID(r)))
	}
}
