package handlers

import (
	"net/http"
	"reflect"
	"strings"
	"testing"

	"cifleet/pkg/api"
)

func TestPlan(t *testing.T) {
	f := newFixture(t, 3)

	var plan api.PlanResponse
	f.mustDo(t, http.MethodPost, "/api/plan", api.PlanRequest{
		UnitTests:    "gle_small gle_big gle_mid",
		Integrations: "shell: 1",
		Machines:     4,
		OSLabels:     []string{"ubuntu", "centos7"},
	}, &plan)

	// four tests on four machines: one each, no empty bucket reported
	if len(plan.Buckets) != 4 {
		t.Fatalf("expected 4 buckets, got %+v", plan.Buckets)
	}
	if !reflect.DeepEqual(plan.Buckets[0].UnitTests, []string{"gle_big"}) || plan.Buckets[0].Cost != 30 {
		t.Errorf("expected gle_big first, got %+v", plan.Buckets[0])
	}
	if !strings.HasPrefix(plan.Formatted, "ubuntu $$$ gle_big $$$ none") {
		t.Errorf("unexpected formatted plan %q", plan.Formatted)
	}

	f.mustDo(t, http.MethodPost, "/api/plan", api.PlanRequest{
		UnitTests: "gle_big",
		Machines:  3,
		OSLabels:  []string{"ubuntu"},
	}, &plan)
	if len(plan.Buckets) != 1 {
		t.Errorf("expected empty buckets dropped, got %+v", plan.Buckets)
	}

	tests := []struct {
		name string
		req  any
	}{
		{"no machines", api.PlanRequest{UnitTests: "gle_big", OSLabels: []string{"ubuntu"}}},
		{"no os labels", api.PlanRequest{UnitTests: "gle_big", Machines: 2}},
		{"malformed integrations", api.PlanRequest{Integrations: "shell", Machines: 1, OSLabels: []string{"ubuntu"}}},
		{"invalid json", `{"machines": "two"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := f.do(t, http.MethodPost, "/api/plan", tt.req); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestReuse(t *testing.T) {
	f := newFixture(t, 3)
	f.mustDo(t, http.MethodPost, "/api/mit_job", api.JobRequest{ID: 1, User: "alice"}, nil)
	f.mustDo(t, http.MethodPost, "/api/build_job", api.JobRequest{
		ID:           10,
		Parent:       1,
		Commits:      map[string]string{"tmd": "abc123", "sql": "def456"},
		Status:       ptr("SUCCESS"),
		BaseBranch:   ptr("main"),
		Variant:      ptr("prebuild"),
		ArtifactPath: ptr("/artifacts/10"),
	}, nil)

	tests := []struct {
		name      string
		req       api.ReuseRequest
		skipBuild string
		artifact  string
	}{
		{"match", api.ReuseRequest{BaseBranch: "main", Commits: map[string]string{"sql": "def456", "tmd": "abc123"}}, "10", "/artifacts/10"},
		{"other commit", api.ReuseRequest{BaseBranch: "main", Commits: map[string]string{"tmd": "fff"}}, "false", ""},
		{"other variant", api.ReuseRequest{BaseBranch: "main", Commits: map[string]string{"sql": "def456", "tmd": "abc123"}, Variant: "release"}, "false", ""},
		{"other branch", api.ReuseRequest{BaseBranch: "8.0", Commits: map[string]string{"sql": "def456", "tmd": "abc123"}}, "false", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d api.ReuseResponse
			f.mustDo(t, http.MethodPost, "/api/reuse", tt.req, &d)
			if d.SkipBuild != tt.skipBuild || d.ArtifactPath != tt.artifact {
				t.Errorf("got %+v, want skip_build %s artifact %q", d, tt.skipBuild, tt.artifact)
			}
			if d.Fingerprint == "" {
				t.Error("expected fingerprint")
			}
		})
	}

	// A build submitted without a variant is recorded as a prebuild.
	var build api.Job
	f.mustDo(t, http.MethodPost, "/api/build_job", api.JobRequest{
		ID:         11,
		Parent:     1,
		Commits:    map[string]string{"repoA": "abc123"},
		Status:     ptr("SUCCESS"),
		BaseBranch: ptr("master"),
	}, &build)
	if build.Variant != "prebuild" {
		t.Errorf("expected variant prebuild, got %q", build.Variant)
	}
	var d api.ReuseResponse
	f.mustDo(t, http.MethodPost, "/api/reuse", api.ReuseRequest{
		BaseBranch: "master",
		Commits:    map[string]string{"repoA": "abc123"},
		Variant:    "prebuild",
	}, &d)
	if d.SkipBuild != "11" {
		t.Errorf("expected build 11 reused, got %+v", d)
	}

	for _, bad := range []api.ReuseRequest{
		{Commits: map[string]string{"tmd": "abc"}},
		{BaseBranch: "main"},
		{BaseBranch: "main", Commits: map[string]string{"tmd": "abc"}, Variant: "debug"},
	} {
		if code, _ := f.do(t, http.MethodPost, "/api/reuse", bad); code != http.StatusBadRequest {
			t.Errorf("expected 400 for %+v, got %d", bad, code)
		}
	}
}
