package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-dagvc/pkg/api/middleware"
	"github.com/dd0wney/cluso-dagvc/pkg/codec"
	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// Content types accepted for snapshot bodies besides JSON.
const (
	contentTypeYAML     = "application/yaml"
	contentTypeEnvelope = "application/octet-stream"
)

var (
	errEmptyBody   = errors.New("request body is empty")
	errInvalidBody = errors.New("invalid request body")
)

// sanitizeError converts an internal error to a user-safe message.
// Internal details are logged but not exposed.
func (s *Server) sanitizeError(r *http.Request, err error, operation string) string {
	s.logger.Error(operation+" failed",
		logging.Operation(operation),
		logging.Error(err),
		logging.CorrelationID(middleware.GetRequestID(r)))
	return fmt.Sprintf("%s failed", operation)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// respondStoreError maps a store, diff or timeout error onto a status code.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	var (
		verr   *versionstore.ValidationError
		berr   *versionstore.BundleValidationError
		rerr   *versionstore.RollbackError
		aerr   *diff.ApplyError
		maxErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusUnprocessableEntity, ValidationFailureResponse{Error: verr.Error(), Validation: verr.Result})
	case errors.As(err, &berr):
		s.respondJSON(w, http.StatusUnprocessableEntity, ValidationFailureResponse{Error: berr.Error(), Validation: berr.Result})
	case errors.As(err, &rerr) && rerr.Result != nil:
		s.respondJSON(w, http.StatusUnprocessableEntity, ValidationFailureResponse{Error: rerr.Error(), Validation: *rerr.Result})
	case errors.As(err, &aerr):
		change := aerr.Change
		s.respondJSON(w, http.StatusConflict, ApplyFailureResponse{Error: aerr.Error(), Index: aerr.Index, Change: &change})
	case versionstore.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrNilSnapshot), errors.Is(err, errEmptyBody), errors.Is(err, errInvalidBody):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &maxErr):
		s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, operation+" timed out")
	case errors.Is(err, context.Canceled):
		s.respondError(w, http.StatusServiceUnavailable, operation+" cancelled")
	default:
		s.respondError(w, http.StatusInternalServerError, s.sanitizeError(r, err, operation))
	}
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := codec.DecodeJSON(r.Body, v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// requestFormat picks the codec format from the Content-Type header.
func requestFormat(r *http.Request) codec.Format {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case contentTypeYAML, "application/x-yaml", "text/yaml":
		return codec.FormatYAML
	case contentTypeEnvelope:
		return codec.FormatEnvelope
	}
	return codec.FormatJSON
}

// decodeSnapshot reads a snapshot body in JSON, YAML or envelope form.
func decodeSnapshot(r *http.Request) (*graph.Snapshot, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyBody
	}
	snap, err := codec.DecodeSnapshot(requestFormat(r), data)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", errInvalidBody, err)
	}
	return snap, nil
}

// respondSnapshot writes snap in the format named by the "format" query
// parameter, JSON by default.
func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, snap *graph.Snapshot) {
	name := r.URL.Query().Get("format")
	if name == "" || name == "json" {
		s.respondJSON(w, http.StatusOK, snap)
		return
	}
	format, err := codec.ParseFormat(name)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := codec.EncodeSnapshot(format, snap)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, s.sanitizeError(r, err, "encode snapshot"))
		return
	}
	contentType := contentTypeEnvelope
	if format == codec.FormatYAML {
		contentType = contentTypeYAML
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// runMutation runs fn under the operation timeout. A timed-out operation
// is not interrupted; the caller receives context.DeadlineExceeded.
func (s *Server) runMutation(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
