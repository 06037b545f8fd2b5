package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-dagvc/pkg/auth"
)

// AuthFailureRecorder counts rejected credentials.
type AuthFailureRecorder interface {
	RecordAuthFailure()
}

// Authenticate creates middleware that validates "Authorization: Bearer"
// tokens and stores the claims in the request context. A nil validator
// disables authentication.
func Authenticate(validator auth.TokenValidator, failures AuthFailureRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				if failures != nil {
					failures.RecordAuthFailure()
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="dagvc"`)
				writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				if failures != nil {
					failures.RecordAuthFailure()
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="dagvc", error="invalid_token"`)
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// Require wraps a handler so it only runs when the request's claims grant
// perm. Requests without claims pass, which is the unauthenticated mode
// selected by a nil validator in Authenticate.
func Require(perm auth.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFrom(r.Context()); ok && !claims.Can(perm) {
			writeJSONError(w, http.StatusForbidden, perm.String()+" access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg})
}
