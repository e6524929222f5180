package cmd

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"cifleet/pkg/api"
)

func TestJobGetCommand(t *testing.T) {
	resetViper()

	start := time.Now().Add(-90 * time.Minute)
	end := time.Now().Add(-30 * time.Minute)
	debugEnd := time.Now().Add(23 * time.Hour)
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/test/42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeResult(w, api.Job{
			ID: 42, Kind: "test", Status: "FAILURE", LogDir: "/logs/42",
			StartT: &start, EndT: &end, DebugStatus: true, DebugEnd: &debugEnd,
		})
	})

	output := execute(t, server, "job", "get", "test", "42")
	for _, want := range []string{"test job 42", "FAILURE", "/logs/42", "1h 0m", "left"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestJobGetCommand_NotFound(t *testing.T) {
	resetViper()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, `test_job "9": not found`, nil)
	})

	output := execute(t, server, "job", "get", "test", "9")
	if !strings.Contains(output, "Error (404)") {
		t.Errorf("expected 404 error, got: %s", output)
	}
}

func TestJobGetCommand_InvalidID(t *testing.T) {
	resetViper()

	output := execute(t, nil, "job", "get", "test", "abc")
	if !strings.Contains(output, `invalid job id "abc"`) {
		t.Errorf("expected invalid id message, got: %s", output)
	}
}

func TestJobCreateCommand(t *testing.T) {
	resetViper()
	defer func() { jobID, jobCommits = 0, nil }()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/mwh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Fleet-User") != "alice" {
			t.Errorf("expected user header, got %q", r.Header.Get("X-Fleet-User"))
		}
		var req api.JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if req.ID != 100 || req.Commits["gle"] != "abc123" {
			t.Errorf("unexpected body %+v", req)
		}
		writeResult(w, api.Job{ID: req.ID, Kind: "mwh", Status: "RUNNING"})
	})
	viper.Set("user", "alice")

	output := execute(t, server, "job", "create", "mwh", "--id", "100", "--commit", "gle=abc123")
	if !strings.Contains(output, "Created mwh job 100") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestJobCreateCommand_Throttled(t *testing.T) {
	resetViper()
	defer func() { jobID = 0 }()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusTooManyRequests, "alice already holds 3 of 3 slots",
			api.ThrottleResponse{User: "alice", OpCount: 3, Limit: 3})
	})

	output := execute(t, server, "job", "create", "mit", "--id", "5")
	if !strings.Contains(output, "Error (429): alice already holds 3 of 3 slots") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestJobDeleteCommand_Cascade(t *testing.T) {
	resetViper()
	defer func() { jobCascade = false }()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Query().Get("cascade") != "true" {
			t.Errorf("expected cascade, got %q", r.URL.RawQuery)
		}
		writeResult(w, nil)
	})

	output := execute(t, server, "job", "delete", "mwh", "100", "--cascade")
	if !strings.Contains(output, "Deleted mwh job 100") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestParseCommits(t *testing.T) {
	commits, err := parseCommits([]string{"gle=abc", "tools=def"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if commits["gle"] != "abc" || commits["tools"] != "def" {
		t.Errorf("unexpected commits %v", commits)
	}

	for _, bad := range []string{"gle", "=abc", "gle="} {
		if _, err := parseCommits([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
