package cmd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cifleet/pkg/api"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *FleetClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFleetClient(server.URL, "test-token", "alice")
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(api.Response{Result: result})
}

func writeFailure(w http.ResponseWriter, code int, message string, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.Response{Error: true, Message: message, Result: result})
}

func TestFleetClient_Headers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Fleet-User") != "alice" {
			t.Errorf("expected user header, got: %s", r.Header.Get("X-Fleet-User"))
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("expected a request id")
		}
		if r.URL.Path != "/api/test/42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeResult(w, api.Job{ID: 42, Kind: "test", Status: "FAILURE"})
	})

	job, err := client.GetJob("test", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != 42 || job.Status != "FAILURE" {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestFleetClient_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no Authorization header, got: %s", r.Header.Get("Authorization"))
		}
		writeResult(w, api.ThrottleResponse{User: "bob", OpCount: 1, Limit: 3, Remaining: 2})
	}))
	defer server.Close()

	usage, err := NewFleetClient(server.URL, "", "").CheckThrottle("bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Remaining != 2 {
		t.Errorf("expected 2 remaining, got %d", usage.Remaining)
	}
}

func TestFleetClient_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusConflict, "debug window of test job 42 already expired", nil)
	})

	_, err := client.Renew("test", 42, "2h", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "debug window of test job 42 already expired" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestFleetClient_NonJSONError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := client.Reclaim("build", 7)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apiErr.StatusCode)
	}
}

func TestFleetClient_RenewQuery(t *testing.T) {
	end := time.Now().Add(2 * time.Hour)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/build/7/renew/2h" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("force") != "true" {
			t.Errorf("expected force=true, got %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("user") != "alice" {
			t.Errorf("expected user=alice, got %q", r.URL.RawQuery)
		}
		writeResult(w, api.Job{ID: 7, Kind: "build", DebugStatus: true, DebugEnd: &end})
	})

	job, err := client.Renew("build", 7, "2h", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.DebugEnd == nil || !job.DebugEnd.Equal(end) {
		t.Errorf("unexpected debug end %v", job.DebugEnd)
	}
}

func TestFleetClient_NodeEventsAndTransitions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/nodes/vm-1/events":
			if r.URL.Query().Get("after_id") != "5" || r.URL.Query().Get("limit") != "10" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			writeResult(w, []api.NodeEvent{{ID: 6, Event: "offline"}})
		case "/api/nodes/vm-1/takeOffline":
			if r.Method != http.MethodPut {
				t.Errorf("expected PUT, got %s", r.Method)
			}
			var req api.NodeTransitionRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.OfflineMessage != "debugging" {
				t.Errorf("unexpected body %+v", req)
			}
			writeResult(w, api.Node{Name: "vm-1", Status: "offline", OfflineMessage: req.OfflineMessage})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	events, err := client.NodeEvents("vm-1", 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ID != 6 {
		t.Errorf("unexpected events %+v", events)
	}

	node, err := client.TakeOffline("vm-1", "debugging", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.Status != "offline" {
		t.Errorf("expected offline, got %s", node.Status)
	}
}
