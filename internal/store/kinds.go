package store

import (
	"fmt"
	"strings"
)

// JobKind is the closed set of job kinds. Behavior that differs per kind is
// looked up in the kinds table instead of switching on strings.
type JobKind int

const (
	KindMIT JobKind = iota + 1
	KindWIP
	KindHourly
	KindBuild
	KindTest
)

// Edge names.
const (
	EdgeUserRequest = "user_request_info"
	EdgeMWHBuild    = "mwh_build_info"
	EdgeMWHTest     = "mwh_test_info"
	EdgeBuildTest   = "build_test_info"
	EdgeBuildNode   = "build_node_info"
	EdgeTestNode    = "test_node_info"
)

// KindSpec describes how one job kind is stored and related.
type KindSpec struct {
	Kind JobKind
	// Name is the canonical identifier used in URLs and tables, e.g. "test_job".
	Name string
	// TopLevel kinds are submitted by users and owned through user_request_info.
	TopLevel bool
	// Debuggable kinds may receive a debug grant after a FAILURE.
	Debuggable bool
	// ParentEdge links a top-level job to a sub-job of this kind.
	ParentEdge string
	// NodeEdge links a job of this kind to the nodes it runs on.
	NodeEdge string
	// Scheduled kinds get the longer debug window for their sub-jobs.
	Scheduled bool
}

var kinds = [...]KindSpec{
	KindMIT:    {Kind: KindMIT, Name: "mit_job", TopLevel: true},
	KindWIP:    {Kind: KindWIP, Name: "wip_job", TopLevel: true},
	KindHourly: {Kind: KindHourly, Name: "hourly_job", TopLevel: true, Scheduled: true},
	KindBuild:  {Kind: KindBuild, Name: "build_job", Debuggable: true, ParentEdge: EdgeMWHBuild, NodeEdge: EdgeBuildNode},
	KindTest:   {Kind: KindTest, Name: "test_job", Debuggable: true, ParentEdge: EdgeMWHTest, NodeEdge: EdgeTestNode},
}

// AllKinds lists every job kind in table order.
func AllKinds() []JobKind {
	return []JobKind{KindMIT, KindWIP, KindHourly, KindBuild, KindTest}
}

// TopLevelKinds lists the kinds a user can submit.
func TopLevelKinds() []JobKind {
	return []JobKind{KindMIT, KindWIP, KindHourly}
}

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k >= KindMIT && k <= KindTest
}

// Spec returns the table entry for k. It panics for unknown kinds, which can
// only be produced by code that bypasses ParseJobKind.
func (k JobKind) Spec() KindSpec {
	if !k.Valid() {
		panic(fmt.Sprintf("store: unknown job kind %d", int(k)))
	}
	return kinds[k]
}

// String returns the upper-case short name, e.g. "TEST".
func (k JobKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
	return strings.ToUpper(strings.TrimSuffix(kinds[k].Name, "_job"))
}

// ParseJobKind accepts "TEST", "test" and "test_job".
func ParseJobKind(s string) (JobKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "_job")
	for _, k := range AllKinds() {
		if strings.TrimSuffix(kinds[k].Name, "_job") == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown job kind %q", s)
}

// MarshalText encodes the kind as its short name.
func (k JobKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown job kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes any form accepted by ParseJobKind.
func (k *JobKind) UnmarshalText(b []byte) error {
	parsed, err := ParseJobKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
