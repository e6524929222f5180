// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// Response is the envelope of every API response. Error is false and
// Message empty on success.
type Response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

// Job represents a job in API responses.
type Job struct {
	ID           int64      `json:"job_id"`
	Kind         string     `json:"job_kind"`
	Status       string     `json:"status"`
	StartT       *time.Time `json:"start_t,omitempty"`
	EndT         *time.Time `json:"end_t,omitempty"`
	LogDir       string     `json:"log_dir"`
	DebugStatus  bool       `json:"debug_status"`
	DebugEnd     *time.Time `json:"debug_end,omitempty"`
	SkipBuild    string     `json:"skip_build"`
	UnitTests    string     `json:"unittests,omitempty"`
	Integrations string     `json:"integrations,omitempty"`
	BaseBranch   string     `json:"base_branch,omitempty"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	Variant      string     `json:"variant,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobRequest is the body of POST and PUT /api/{jobKind}. Absent fields are
// left untouched on update.
type JobRequest struct {
	ID     int64  `json:"job_id,omitempty"`
	User   string `json:"user,omitempty"`
	Email  string `json:"email,omitempty"`
	Parent int64  `json:"parent,omitempty"`
	// Build is the build job a test job runs against.
	Build   int64             `json:"build,omitempty"`
	Commits map[string]string `json:"commits,omitempty"`

	Status       *string    `json:"status,omitempty"`
	StartT       *time.Time `json:"start_t,omitempty"`
	EndT         *time.Time `json:"end_t,omitempty"`
	LogDir       *string    `json:"log_dir,omitempty"`
	DebugStatus  *bool      `json:"debug_status,omitempty"`
	SkipBuild    *string    `json:"skip_build,omitempty"`
	UnitTests    *string    `json:"unittests,omitempty"`
	Integrations *string    `json:"integrations,omitempty"`
	BaseBranch   *string    `json:"base_branch,omitempty"`
	Variant      *string    `json:"variant,omitempty"`
	ArtifactPath *string    `json:"artifact_path,omitempty"`
}

// Node represents an execution machine in API responses.
type Node struct {
	Name           string    `json:"node_name"`
	IP             string    `json:"ip"`
	Status         string    `json:"status"`
	OfflineMessage string    `json:"offline_message"`
	// BoundJob is zero while no job holds the node.
	BoundJob       int64     `json:"bound_job"`
	LogDir         string    `json:"log_dir,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NodeRequest is the body of PUT /api/nodes/{name}.
type NodeRequest struct {
	IP             *string `json:"ip,omitempty"`
	OfflineMessage *string `json:"offline_message,omitempty"`
}

// NodeTransitionRequest is the body of takeOffline and takeOnline.
type NodeTransitionRequest struct {
	OfflineMessage string `json:"offline_message"`
	LogDir         string `json:"log_dir"`
}

// NodeEvent is one entry of a node's audit trail.
type NodeEvent struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Message   string    `json:"message,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User represents an account in API responses.
type User struct {
	Name      string    `json:"user_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRequest is the body of PUT /api/users/{name}.
type UserRequest struct {
	Email *string `json:"email,omitempty"`
}

// ThrottleResponse is the result of checkThrottle and of a throttled
// submission.
type ThrottleResponse struct {
	User    string `json:"user"`
	OpCount int    `json:"op_count"`
	// Limit is zero for unlimited users.
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// ActivityResponse lists what a user currently holds.
type ActivityResponse struct {
	ThrottleResponse
	Running   []Job  `json:"running"`
	Debugging []Job  `json:"debugging"`
	Summary   string `json:"summary"`
}

// PlanRequest is the body of POST /api/plan.
type PlanRequest struct {
	UnitTests    string   `json:"unittests"`
	Integrations string   `json:"integrations"`
	Machines     int      `json:"machines"`
	OSLabels     []string `json:"os_labels"`
	// Special lists unit test groups that cannot run on legacy OS images.
	Special []string `json:"special,omitempty"`
}

// PlanBucket is the work of one machine.
type PlanBucket struct {
	OS           string   `json:"os"`
	UnitTests    []string `json:"unittests"`
	Integrations []string `json:"integrations"`
	Cost         float64  `json:"cost"`
}

// PlanResponse holds the non-empty buckets and their string form.
type PlanResponse struct {
	Buckets   []PlanBucket `json:"buckets"`
	Formatted string       `json:"formatted"`
}

// ReuseRequest is the body of POST /api/reuse.
type ReuseRequest struct {
	BaseBranch string            `json:"base_branch"`
	Commits    map[string]string `json:"commits"`
	// Variant is "prebuild" or "release", optionally with "+sanitizer".
	Variant string `json:"variant"`
}

// ReuseResponse is the build reuse decision.
type ReuseResponse struct {
	SkipBuild    string `json:"skip_build"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Fingerprint  string `json:"fingerprint"`
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string `json:"status"`
}
