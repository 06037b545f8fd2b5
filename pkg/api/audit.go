package api

import (
	"net/http"
	"path"

	"github.com/dd0wney/cluso-dagvc/pkg/api/middleware"
	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
)

// auditWriter captures the status a mutation handler responds with.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// audited records an audit event for every request h handles. The resource
// id comes from the route or, for creations, from the Location header.
func (s *Server) audited(action audit.Action, resource audit.ResourceType, h http.HandlerFunc) http.HandlerFunc {
	if s.audit == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		h(aw, r)

		event := audit.NewEvent(action, resource, auditResourceID(r, aw.Header()), audit.StatusSuccess)
		if aw.status >= http.StatusBadRequest {
			event.Status = audit.StatusFailure
		}
		event.HTTPStatus = aw.status
		event.RequestID = middleware.GetRequestID(r)
		event.RemoteAddr = r.RemoteAddr
		if claims, ok := auth.ClaimsFrom(r.Context()); ok {
			event.Subject = claims.Subject
			event.Role = claims.Role
		}

		if err := s.audit.Log(event); err != nil {
			s.logger.Error("failed to write audit event",
				logging.String("action", string(action)),
				logging.Error(err),
				logging.CorrelationID(event.RequestID))
		}
	}
}

func auditResourceID(r *http.Request, h http.Header) string {
	for _, name := range []string{"hash", "id"} {
		if v := r.PathValue(name); v != "" {
			return v
		}
	}
	if loc := h.Get("Location"); loc != "" {
		return path.Base(loc)
	}
	return ""
}

// handleAudit lists audit events, oldest first. Query parameters subject,
// action, resource_type, resource_id and status filter; limit keeps the
// most recent matches.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	querier, ok := s.audit.(audit.Querier)
	if !ok {
		s.respondError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := &audit.Filter{
		Subject:      q.Get("subject"),
		Action:       audit.Action(q.Get("action")),
		ResourceType: audit.ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
		Status:       audit.Status(q.Get("status")),
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := querier.GetEvents(filter)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	s.respondJSON(w, http.StatusOK, AuditResponse{
		Events: events,
		Count:  len(events),
		Total:  s.audit.GetEventCount(),
	})
}
