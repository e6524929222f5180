// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"cifleet/pkg/api"
)

// UserHeader carries the calling user. The user query parameter is
// accepted as well, as in /api/test_job/7/renew/2h?user=alice.
const UserHeader = "X-Fleet-User"

type userKey struct{}

// Identity records the calling user in the request context. Anonymous
// requests pass through; handlers that need a user reject them.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.URL.Query().Get("user"))
		if user == "" {
			user = strings.TrimSpace(r.Header.Get(UserHeader))
		}
		if user != "" {
			r = r.WithContext(NewContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// NewContextWithUser returns a context carrying user.
func NewContextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the calling user.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.Response{Error: true, Message: message})
}
