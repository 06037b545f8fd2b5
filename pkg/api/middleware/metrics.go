package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsRecorder is an interface for recording HTTP metrics
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	RecordResponseSize(method, path string, size float64)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()
}

// Metrics creates middleware that tracks HTTP request metrics. Requests are
// labelled by their route pattern when the mux set one, so that path
// parameters do not explode label cardinality.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncHTTPRequestsInFlight()
			defer recorder.DecHTTPRequestsInFlight()

			wrapper := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			recorder.RecordHTTPRequest(r.Method, path, strconv.Itoa(wrapper.statusCode), time.Since(start))
			recorder.RecordResponseSize(r.Method, path, float64(wrapper.bytesWritten))
		})
	}
}
