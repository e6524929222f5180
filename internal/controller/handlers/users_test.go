package handlers

import (
	"net/http"
	"strings"
	"testing"

	"cifleet/pkg/api"
)

func TestUsers(t *testing.T) {
	f := newFixture(t, 3)

	var user api.User
	f.mustDo(t, http.MethodPut, "/api/users/alice", api.UserRequest{Email: ptr("alice@example.com")}, &user)
	if user.Name != "alice" || user.Email != "alice@example.com" {
		t.Errorf("unexpected user %+v", user)
	}
	f.mustDo(t, http.MethodGet, "/api/users/alice", nil, &user)
	if user.Email != "alice@example.com" {
		t.Errorf("unexpected user %+v", user)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/users/nobody", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", code)
	}

	var users []api.User
	f.mustDo(t, http.MethodGet, "/api/users?email=alice@example.com", nil, &users)
	if len(users) != 1 {
		t.Errorf("expected one user by email, got %+v", users)
	}

	var usage api.ThrottleResponse
	f.mustDo(t, http.MethodGet, "/api/users/ci-bot/checkThrottle", nil, &usage)
	if usage.OpCount != 0 || usage.Limit != 0 {
		t.Errorf("expected unlimited ci-bot with no jobs, got %+v", usage)
	}
}

func TestActivity(t *testing.T) {
	f := newFixture(t, 3)
	f.mustDo(t, http.MethodPost, "/api/mit_job", api.JobRequest{ID: 1, User: "alice", LogDir: ptr("/logs/1")}, nil)
	f.mustDo(t, http.MethodPost, "/api/wip_job", api.JobRequest{ID: 2, User: "alice"}, nil)
	f.mustDo(t, http.MethodPost, "/api/test_job", api.JobRequest{ID: 3, Parent: 2}, nil)
	f.mustDo(t, http.MethodPut, "/api/test_job/3", api.JobRequest{Status: ptr("FAILURE")}, nil)
	f.mustDo(t, http.MethodPut, "/api/wip_job/2", api.JobRequest{Status: ptr("FAILURE")}, nil)

	var a api.ActivityResponse
	f.mustDo(t, http.MethodGet, "/api/users/alice/activity", nil, &a)
	if a.OpCount != 2 || a.Limit != 3 || a.Remaining != 1 {
		t.Errorf("unexpected usage %+v", a.ThrottleResponse)
	}
	if len(a.Running) != 1 || a.Running[0].ID != 1 {
		t.Errorf("expected mit job 1 running, got %+v", a.Running)
	}
	if len(a.Debugging) != 1 || a.Debugging[0].ID != 3 {
		t.Errorf("expected test job 3 debugging, got %+v", a.Debugging)
	}
	if !strings.HasPrefix(a.Summary, "alice holds 2 of 3 slots") {
		t.Errorf("unexpected summary %q", a.Summary)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/users/bob/activity", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", code)
	}
}
