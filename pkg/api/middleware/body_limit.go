package middleware

import (
	"net/http"
)

// BodySizeLimit creates middleware that limits the size of incoming request
// bodies. Requests whose declared length exceeds maxBytes are rejected before
// the handler runs; the body reader enforces the limit otherwise.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
