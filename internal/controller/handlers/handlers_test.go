package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cifleet/internal/apperr"
	"cifleet/internal/controller/middleware"
	"cifleet/internal/debugsession"
	"cifleet/internal/nodes"
	"cifleet/internal/planner"
	"cifleet/internal/registry"
	"cifleet/internal/reuse"
	"cifleet/internal/store"
	"cifleet/internal/store/memory"
	"cifleet/internal/throttle"
)

// fakeReclaimer treats every node as physical and records uninstalls.
type fakeReclaimer struct {
	mu          sync.Mutex
	uninstalled []string
	err         error
}

func (f *fakeReclaimer) Ephemeral(name string) bool { return false }

func (f *fakeReclaimer) Uninstall(ctx context.Context, node store.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled = append(f.uninstalled, node.Name)
	return f.err
}

func (f *fakeReclaimer) Teardown(ctx context.Context, node store.Node) error { return nil }

// pingStore fails readiness checks on demand.
type pingStore struct {
	*memory.Store
	pingErr error
}

func (p *pingStore) Ping(ctx context.Context) error { return p.pingErr }

type fixture struct {
	h         *Handlers
	handler   http.Handler
	store     *pingStore
	reclaimer *fakeReclaimer
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	s := &pingStore{Store: memory.New()}
	r := &fakeReclaimer{}
	lifecycle := nodes.New(s, r)
	sessions := debugsession.NewManager(s, lifecycle, debugsession.Config{})
	guard := throttle.NewGuard(s, limit, throttle.Exemptions{"ci-bot": 0})

	h := New(Deps{
		Store:    s,
		Registry: registry.New(s, guard, sessions, registry.Config{AutoGrant: true}),
		Sessions: sessions,
		Nodes:    lifecycle,
		Throttle: guard,
		Matcher:  reuse.NewMatcher(s),
		Costs: &planner.CostTable{Unit: map[string][]float64{
			"gle_big":   {30},
			"gle_mid":   {10},
			"gle_small": {5},
		}},
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{h: h, handler: middleware.Identity(mux), store: s, reclaimer: r}
}

type envelope struct {
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: response is not an envelope: %q", method, path, rr.Body.String())
	}
	if env.Error != (rr.Code != http.StatusOK) {
		t.Errorf("%s %s: error flag %v does not match status %d", method, path, env.Error, rr.Code)
	}
	return rr.Code, env
}

func (f *fixture) mustDo(t *testing.T, method, path string, body any, out any) {
	t.Helper()
	code, env := f.do(t, method, path, body)
	if code != http.StatusOK {
		t.Fatalf("%s %s: got %d: %s", method, path, code, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			t.Fatalf("%s %s: decode result: %v", method, path, err)
		}
	}
}

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{"Healthz Always OK", "/healthz", errors.New("db down"), http.StatusOK, "healthy"},
		{"Readyz Success", "/readyz", nil, http.StatusOK, "ready"},
		{"Readyz Store Fail", "/readyz", errors.New("db down"), http.StatusServiceUnavailable, "store unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			f.store.pingErr = tt.pingErr

			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			rr := httptest.NewRecorder()
			f.handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestFail_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{"not found", apperr.NotFound("job", "7"), http.StatusNotFound, "not found"},
		{"validation", apperr.Validation("bad input"), http.StatusBadRequest, "bad input"},
		{"forbidden", fmt.Errorf("renew: %w", apperr.ErrForbidden), http.StatusForbidden, ""},
		{"conflict", apperr.Conflict("node busy"), http.StatusConflict, "node busy"},
		{"already expired", fmt.Errorf("job 7: %w", apperr.ErrAlreadyExpired), http.StatusConflict, ""},
		{"transient", apperr.Transient("uninstall vm-1", errors.New("ssh timeout")), http.StatusServiceUnavailable, "ssh timeout"},
		{"throttled", &apperr.ThrottleError{User: "alice", OpCount: 3, Limit: 3}, http.StatusTooManyRequests, `"remaining":0`},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}

	h := New(Deps{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/test_job/7", nil)
			rr := httptest.NewRecorder()
			h.fail(rr, req, tt.err)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), `"error":true`) {
				t.Errorf("expected error envelope, got %s", rr.Body.String())
			}
			if tt.expectedBody != "" && !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("got body %s, want substring %s", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func decode(env envelope, out any) error {
	return json.Unmarshal(env.Result, out)
}

var errTest = errors.New("ssh: connection refused")

func itoa(n int64) string { return fmt.Sprint(n) }
