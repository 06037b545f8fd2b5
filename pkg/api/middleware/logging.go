package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/logging"
)

// statusWriter captures the response status and size.
type statusWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Logging creates middleware that logs each request with its status and
// latency. Server errors log at Error, client errors at Warn.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.Path(r.URL.Path),
				logging.Int("status", sw.statusCode),
				logging.Int("bytes", sw.bytesWritten),
				logging.Latency(time.Since(start)),
			}
			if id := GetRequestID(r); id != "" {
				fields = append(fields, logging.CorrelationID(id))
			}

			switch {
			case sw.statusCode >= 500:
				logger.Error("request failed", fields...)
			case sw.statusCode >= 400:
				logger.Warn("request rejected", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}
