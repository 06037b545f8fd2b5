package api

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
		Snapshots: s.store.Len(),
		Bundles:   len(s.store.ListBundles()),
	}
	if latest := s.store.Latest(); latest.IntegrityHash != "" {
		resp.Latest = latest.IntegrityHash
	}
	if s.archiver != nil {
		resp.Archive = s.archiver.Backend().Name()
	}
	s.metricsRegistry.UpdateSystemMetrics(s.startTime)
	s.respondJSON(w, http.StatusOK, resp)
}

// handleEvents lists recorded telemetry events, oldest first. Query
// parameters type, status, source, correlation_id, since and until filter;
// limit keeps the most recent matches.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.respondError(w, http.StatusNotFound, "event recording is disabled")
		return
	}

	q := r.URL.Query()
	filter := &telemetry.Filter{
		Type:          telemetry.EventType(q.Get("type")),
		Status:        telemetry.Status(q.Get("status")),
		Source:        q.Get("source"),
		CorrelationID: q.Get("correlation_id"),
	}
	for name, dst := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid "+name+": "+v)
				return
			}
			*dst = &t
		}
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := s.recorder.Events(filter)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	s.respondJSON(w, http.StatusOK, EventsResponse{
		Events: events,
		Count:  len(events),
		Total:  s.recorder.Total(),
	})
}
