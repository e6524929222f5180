package controller

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cifleet/internal/auth"
	"cifleet/internal/controller/handlers"
	"cifleet/internal/debugsession"
	"cifleet/internal/registry"
	"cifleet/internal/reuse"
	"cifleet/internal/store/memory"
	"cifleet/internal/throttle"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	s := memory.New()
	guard := throttle.NewGuard(s, 3, nil)
	sessions := debugsession.NewManager(s, nil, debugsession.Config{})
	h := handlers.New(handlers.Deps{
		Store:    s,
		Registry: registry.New(s, guard, sessions, registry.Config{}),
		Sessions: sessions,
		Throttle: guard,
		Matcher:  reuse.NewMatcher(s),
	})
	return NewRouter(h, opts)
}

func TestRouter_TokenGuardsAPIOnly(t *testing.T) {
	token := "s3cret"
	router := newTestRouter(t, Options{TokenHash: auth.HashKey(token)})

	tests := []struct {
		name           string
		path           string
		authHeader     string
		expectedStatus int
	}{
		{"healthz open", "/healthz", "", http.StatusOK},
		{"readyz open", "/readyz", "", http.StatusOK},
		{"api without token", "/api/mit_job", "", http.StatusUnauthorized},
		{"api wrong token", "/api/mit_job", "Bearer nope", http.StatusUnauthorized},
		{"api with token", "/api/mit_job", "Bearer " + token, http.StatusOK},
		{"unknown kind", "/api/nightly_job", "Bearer " + token, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got %d want %d: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if rr.Code == http.StatusOK && !strings.Contains(rr.Body.String(), `"error":false`) {
				t.Errorf("expected success envelope, got %s", rr.Body.String())
			}
		})
	}
}

func TestRouter_RateLimitPerUser(t *testing.T) {
	router := newTestRouter(t, Options{RateLimit: 1, RateLimitBurst: 1})

	get := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+user+"/checkThrottle?user="+user, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := get("alice"); code != http.StatusOK {
		t.Fatalf("first request: got %d", code)
	}
	if code := get("alice"); code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", code)
	}
	if code := get("bob"); code != http.StatusOK {
		t.Errorf("other user: expected 200, got %d", code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fleet_debugging_jobs 0\n"))
	})
	router := newTestRouter(t, Options{Metrics: metrics})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "fleet_debugging_jobs") {
		t.Errorf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}
