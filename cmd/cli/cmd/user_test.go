package cmd

import (
	"net/http"
	"strings"
	"testing"

	"cifleet/pkg/api"
)

func TestUserThrottleCommand(t *testing.T) {
	tests := []struct {
		name  string
		usage api.ThrottleResponse
		want  string
	}{
		{"limited", api.ThrottleResponse{User: "alice", OpCount: 2, Limit: 3, Remaining: 1}, "alice holds 2 of 3 slots"},
		{"exhausted", api.ThrottleResponse{User: "alice", OpCount: 3, Limit: 3}, "0 remaining"},
		{"unlimited", api.ThrottleResponse{User: "ci-bot", OpCount: 12}, "ci-bot holds 12 jobs, unlimited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/users/"+tt.usage.User+"/checkThrottle" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				writeResult(w, tt.usage)
			})

			output := execute(t, server, "user", "throttle", tt.usage.User)
			if !strings.Contains(output, tt.want) {
				t.Errorf("expected %q in output, got: %s", tt.want, output)
			}
		})
	}
}

func TestUserActivityCommand(t *testing.T) {
	resetViper()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, api.ActivityResponse{
			ThrottleResponse: api.ThrottleResponse{User: "alice", OpCount: 1, Limit: 3, Remaining: 2},
			Summary:          "alice holds 1 of 3 slots: 1 running, 0 debugging\n",
		})
	})

	output := execute(t, server, "user", "activity", "alice")
	if output != "alice holds 1 of 3 slots: 1 running, 0 debugging\n" {
		t.Errorf("unexpected output: %q", output)
	}
}
