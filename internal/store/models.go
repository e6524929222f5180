// Package store contains the entity model and the storage contracts for cifleet.
package store

import (
	"strconv"
	"time"
)

// JobStatus represents the state of a job. It moves from RUNNING to a
// terminal state exactly once; re-runs create a new Job.
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailure JobStatus = "FAILURE"
	JobStatusAborted JobStatus = "ABORTED"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusRunning, JobStatusSuccess, JobStatusFailure, JobStatusAborted:
		return true
	}
	return false
}

// Terminal reports whether s is SUCCESS, FAILURE or ABORTED.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure || s == JobStatusAborted
}

// NodeStatus represents the state of an execution machine.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
	// NodeStatusDeleted is terminal and only used for ephemeral pod or
	// container backed nodes.
	NodeStatusDeleted NodeStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s NodeStatus) Valid() bool {
	return s == NodeStatusOnline || s == NodeStatusOffline || s == NodeStatusDeleted
}

// Job represents one unit of CI work.
type Job struct {
	ID     int64
	Kind   JobKind
	Status JobStatus
	StartT *time.Time
	EndT   *time.Time
	LogDir string

	DebugStatus bool
	DebugEnd    *time.Time
	// DebugWarned is the lowest reminder threshold in hours already sent for
	// the current grant. Zero means no reminder has been sent.
	DebugWarned int

	// SkipBuild is the id of the reused build job, or "false".
	SkipBuild    string
	UnitTests    string
	Integrations string

	// Build reuse inputs and outputs.
	BaseBranch   string
	Fingerprint  string
	Variant      string
	ArtifactPath string

	UpdatedAt time.Time
}

// Debugging reports whether the job currently holds a debug grant.
func (j *Job) Debugging() bool {
	return j.DebugStatus && j.DebugEnd != nil
}

// Node represents one execution machine.
type Node struct {
	Name           string
	IP             string
	Status         NodeStatus
	OfflineMessage string
	// BoundJob is the job currently holding the node. Zero when the node is
	// online or offline for maintenance.
	BoundJob  int64
	LogDir    string
	UpdatedAt time.Time
}

// User represents a human account. Users are created lazily.
type User struct {
	Name      string
	Email     string
	CreatedAt time.Time
}

// NodeEvent is one entry of a node's lifecycle audit trail.
type NodeEvent struct {
	ID        int64
	NodeName  string
	Event     string
	Message   string
	JobID     int64
	CreatedAt time.Time
}

// Node event names.
const (
	NodeEventOffline         = "offline"
	NodeEventOnline          = "online"
	NodeEventDeleted         = "deleted"
	NodeEventUninstallFailed = "uninstall_failed"
	NodeEventTeardownFailed  = "teardown_failed"
)

// JobPatch carries the fields of a merge-upsert. Nil fields are left
// untouched on existing records. StartT and EndT are set once: a patch
// never overwrites a value that is already recorded.
type JobPatch struct {
	Kind         *JobKind
	Status       *JobStatus
	StartT       *time.Time
	EndT         *time.Time
	LogDir       *string
	DebugStatus  *bool
	DebugEnd     *time.Time
	DebugWarned  *int
	SkipBuild    *string
	UnitTests    *string
	Integrations *string
	BaseBranch   *string
	Fingerprint  *string
	Variant      *string
	ArtifactPath *string
}

// Apply merges the patch into j following the same rules as the stores.
func (p JobPatch) Apply(j *Job) {
	if p.Kind != nil && j.Kind == 0 {
		j.Kind = *p.Kind
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.StartT != nil && j.StartT == nil {
		t := *p.StartT
		j.StartT = &t
	}
	if p.EndT != nil && j.EndT == nil {
		t := *p.EndT
		j.EndT = &t
	}
	if p.LogDir != nil {
		j.LogDir = *p.LogDir
	}
	if p.DebugStatus != nil {
		j.DebugStatus = *p.DebugStatus
	}
	if p.DebugEnd != nil {
		t := *p.DebugEnd
		j.DebugEnd = &t
	}
	if p.DebugWarned != nil {
		j.DebugWarned = *p.DebugWarned
	}
	setString(&j.SkipBuild, p.SkipBuild)
	setString(&j.UnitTests, p.UnitTests)
	setString(&j.Integrations, p.Integrations)
	setString(&j.BaseBranch, p.BaseBranch)
	setString(&j.Fingerprint, p.Fingerprint)
	setString(&j.Variant, p.Variant)
	setString(&j.ArtifactPath, p.ArtifactPath)
}

// NodePatch carries the fields of a node merge-upsert.
type NodePatch struct {
	IP             *string
	Status         *NodeStatus
	OfflineMessage *string
	BoundJob       *int64
	LogDir         *string
}

// Apply merges the patch into n.
func (p NodePatch) Apply(n *Node) {
	setString(&n.IP, p.IP)
	if p.Status != nil {
		n.Status = *p.Status
	}
	setString(&n.OfflineMessage, p.OfflineMessage)
	if p.BoundJob != nil {
		n.BoundJob = *p.BoundJob
	}
	setString(&n.LogDir, p.LogDir)
}

// UserPatch carries the fields of a user merge-upsert.
type UserPatch struct {
	Email *string
}

// Apply merges the patch into u.
func (p UserPatch) Apply(u *User) {
	setString(&u.Email, p.Email)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// JobFilter is an equality filter over indexed job attributes. Zero fields
// match everything.
type JobFilter struct {
	Kind *JobKind
	// Kinds matches any of the listed kinds.
	Kinds       []JobKind
	Status      *JobStatus
	DebugStatus *bool
	LogDir      *string
	BaseBranch  *string
}

// Match reports whether j satisfies every set field of f.
func (f JobFilter) Match(j *Job) bool {
	if f.Kind != nil && j.Kind != *f.Kind {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, j.Kind) {
		return false
	}
	if f.Status != nil && j.Status != *f.Status {
		return false
	}
	if f.DebugStatus != nil && j.DebugStatus != *f.DebugStatus {
		return false
	}
	if f.LogDir != nil && j.LogDir != *f.LogDir {
		return false
	}
	if f.BaseBranch != nil && j.BaseBranch != *f.BaseBranch {
		return false
	}
	return true
}

func containsKind(kinds []JobKind, k JobKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

// NodeFilter is an equality filter over indexed node attributes.
type NodeFilter struct {
	Status   *NodeStatus
	BoundJob *int64
}

// Match reports whether n satisfies every set field of f.
func (f NodeFilter) Match(n *Node) bool {
	if f.Status != nil && n.Status != *f.Status {
		return false
	}
	if f.BoundJob != nil && n.BoundJob != *f.BoundJob {
		return false
	}
	return true
}

// UserFilter is an equality filter over indexed user attributes.
type UserFilter struct {
	Email *string
}

// Match reports whether u satisfies every set field of f.
func (f UserFilter) Match(u *User) bool {
	return f.Email == nil || u.Email == *f.Email
}

// EntityType names a vertex table.
type EntityType string

const (
	EntityJob  EntityType = "job"
	EntityNode EntityType = "node"
	EntityUser EntityType = "user"
)

// Ref identifies one entity by type and primary key.
type Ref struct {
	Type EntityType
	ID   string
}

// JobRef returns the Ref of a job.
func JobRef(id int64) Ref { return Ref{Type: EntityJob, ID: strconv.FormatInt(id, 10)} }

// NodeRef returns the Ref of a node.
func NodeRef(name string) Ref { return Ref{Type: EntityNode, ID: name} }

// UserRef returns the Ref of a user.
func UserRef(name string) Ref { return Ref{Type: EntityUser, ID: name} }

// JobID parses the id of a job Ref.
func (r Ref) JobID() (int64, error) {
	return strconv.ParseInt(r.ID, 10, 64)
}

// Edge is a directed, typed relationship. It has no identity beyond
// (from, name, to) and is never mutated.
type Edge struct {
	From      Ref
	Name      string
	To        Ref
	CreatedAt time.Time
}

// Direction selects which end of an edge a traversal starts from.
type Direction int

const (
	// Outbound follows edges from their From end to their To end.
	Outbound Direction = iota
	// Inbound follows edges from their To end back to their From end.
	Inbound
)
