// Package middleware provides HTTP middleware for the version control API.
//
// Files are organized by concern:
//
//   - recovery.go: Panic recovery
//   - logging.go: Structured request logging
//   - request_id.go: Request ID generation and tracking
//   - body_limit.go: Request body size limiting
//   - metrics.go: HTTP metrics collection
//   - auth.go: Bearer token authentication and role checks
//
// All middleware follows the standard pattern: func(http.Handler) http.Handler
// This allows easy chaining: handler = middleware1(middleware2(handler))
//
// Example usage:
//
//	handler := middleware.PanicRecovery(logger)(mux)
//	handler = middleware.Logging(logger)(handler)
//	handler = middleware.RequestID()(handler)
//
//	http.ListenAndServe(":8080", handler)
package middleware
