package middleware

import (
	"net/http"
	"strings"

	"cifleet/internal/auth"
)

// RequireToken rejects requests whose bearer token does not hash to
// tokenHash. An empty tokenHash disables the check for local setups.
func RequireToken(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			if !auth.VerifyKey(parts[1], tokenHash) {
				writeError(w, http.StatusUnauthorized, "invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
