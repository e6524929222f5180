// Package reuse finds a prior build whose artifacts can stand in for a new
// build of the same commits.
package reuse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"cifleet/internal/apperr"
	"cifleet/internal/store"
)

// NoReuse is the skip_build token meaning the build must run.
const NoReuse = "false"

// Fingerprint renders the commits of every dependency repository in a
// canonical form, "repo:hash" pairs sorted by repository and joined by ";".
func Fingerprint(commits map[string]string) string {
	repos := make([]string, 0, len(commits))
	for repo := range commits {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	parts := make([]string, len(repos))
	for i, repo := range repos {
		parts[i] = repo + ":" + strings.TrimSpace(commits[repo])
	}
	return strings.Join(parts, ";")
}

// Variant identifies the flavor of a package build.
type Variant struct {
	Release   bool `json:"release"`
	Sanitizer bool `json:"sanitizer"`
}

// String returns "prebuild" or "release", with a "+sanitizer" suffix for
// sanitizer builds.
func (v Variant) String() string {
	s := "prebuild"
	if v.Release {
		s = "release"
	}
	if v.Sanitizer {
		s += "+sanitizer"
	}
	return s
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	base, suffix, hasSuffix := strings.Cut(strings.TrimSpace(s), "+")
	var v Variant
	switch base {
	case "prebuild":
	case "release":
		v.Release = true
	default:
		return Variant{}, apperr.Validation("unknown build variant %q", s)
	}
	if hasSuffix {
		if suffix != "sanitizer" {
			return Variant{}, apperr.Validation("unknown build variant %q", s)
		}
		v.Sanitizer = true
	}
	return v, nil
}

// Request describes the build about to be started.
type Request struct {
	BaseBranch string            `json:"base_branch"`
	Commits    map[string]string `json:"commits"`
	Variant    Variant           `json:"variant"`
}

// Decision is the outcome of a match. SkipBuild is the matched job id or
// NoReuse.
type Decision struct {
	SkipBuild    string `json:"skip_build"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Fingerprint  string `json:"fingerprint"`
}

// Reused reports whether a prior build was selected.
func (d Decision) Reused() bool {
	return d.SkipBuild != NoReuse
}

// Matcher searches successful builds. It never writes to the store.
type Matcher struct {
	store store.EntityStore
}

func NewMatcher(s store.EntityStore) *Matcher {
	return &Matcher{store: s}
}

// Match returns the most recent successful build of req.BaseBranch with the
// same fingerprint and variant. A build that itself reused artifacts is
// passed over once one of its tests has succeeded. Finding nothing is the
// normal "must build" outcome, not an error.
func (m *Matcher) Match(ctx context.Context, req Request) (Decision, error) {
	if strings.TrimSpace(req.BaseBranch) == "" {
		return Decision{}, apperr.Validation("base_branch is required")
	}
	if len(req.Commits) == 0 {
		return Decision{}, apperr.Validation("at least one commit is required")
	}
	for repo, hash := range req.Commits {
		if strings.TrimSpace(repo) == "" || strings.TrimSpace(hash) == "" {
			return Decision{}, apperr.Validation("blank repository or commit in %q:%q", repo, hash)
		}
	}

	fp := Fingerprint(req.Commits)
	variant := req.Variant.String()
	decision := Decision{SkipBuild: NoReuse, Fingerprint: fp}

	kind, status, branch := store.KindBuild, store.JobStatusSuccess, req.BaseBranch
	candidates, err := m.store.QueryJobs(ctx, store.JobFilter{Kind: &kind, Status: &status, BaseBranch: &branch})
	if err != nil {
		return Decision{}, fmt.Errorf("query build candidates: %w", err)
	}

	for i := range candidates {
		c := &candidates[i]
		if c.Fingerprint != fp || c.Variant != variant {
			continue
		}
		if c.SkipBuild != "" && c.SkipBuild != NoReuse {
			passed, err := m.testsPassed(ctx, c.ID)
			if err != nil {
				return Decision{}, err
			}
			if passed {
				slog.DebugContext(ctx, "skipping reused build with passing tests", "job_id", c.ID)
				continue
			}
		}

		decision.SkipBuild = strconv.FormatInt(c.ID, 10)
		decision.ArtifactPath = c.ArtifactPath
		return decision, nil
	}
	return decision, nil
}

func (m *Matcher) testsPassed(ctx context.Context, buildID int64) (bool, error) {
	success := store.JobStatusSuccess
	tests, err := store.TraverseJobs(ctx, m.store, store.JobRef(buildID), store.EdgeBuildTest, store.Outbound,
		store.JobFilter{Status: &success})
	if err != nil {
		return false, fmt.Errorf("tests of build %d: %w", buildID, err)
	}
	return len(tests) > 0, nil
}
