package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cifleet/internal/apperr"
	"cifleet/internal/store"
	"cifleet/internal/throttle"
)

// Relation names accepted by Related.
const (
	RelationBuildJob   = "build_job"
	RelationTestJob    = "test_job"
	RelationMWHRequest = "mwh_request"
	RelationNode       = "node"
	RelationUser       = "user"
)

// Related holds the result of a one-hop traversal. Exactly one field is set
// depending on the relation.
type Related struct {
	Jobs  []store.Job
	Nodes []store.Node
	User  *store.User
}

// Related follows relation from the job.
func (s *Service) Related(ctx context.Context, kind store.JobKind, id int64, relation string) (*Related, error) {
	job, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	spec := job.Kind.Spec()
	ref := store.JobRef(id)

	switch relation {
	case RelationBuildJob:
		switch {
		case spec.TopLevel:
			return s.jobs(ctx, ref, store.EdgeMWHBuild, store.Outbound)
		case job.Kind == store.KindTest:
			return s.jobs(ctx, ref, store.EdgeBuildTest, store.Inbound)
		}
	case RelationTestJob:
		switch {
		case spec.TopLevel:
			return s.jobs(ctx, ref, store.EdgeMWHTest, store.Outbound)
		case job.Kind == store.KindBuild:
			return s.jobs(ctx, ref, store.EdgeBuildTest, store.Outbound)
		}
	case RelationMWHRequest:
		if !spec.TopLevel {
			parent, err := store.ParentOf(ctx, s.store, job)
			if err != nil {
				return nil, err
			}
			out := &Related{Jobs: []store.Job{}}
			if parent != nil {
				out.Jobs = append(out.Jobs, *parent)
			}
			return out, nil
		}
	case RelationNode:
		if spec.NodeEdge != "" {
			nodes, err := store.NodesOf(ctx, s.store, job)
			if err != nil {
				return nil, err
			}
			if nodes == nil {
				nodes = []store.Node{}
			}
			return &Related{Nodes: nodes}, nil
		}
	case RelationUser:
		user, err := store.OwnerOf(ctx, s.store, job)
		if err != nil {
			return nil, err
		}
		return &Related{User: user}, nil
	default:
		return nil, apperr.Validation("unknown relation %q", relation)
	}
	return nil, apperr.Validation("%s jobs have no %s relation", job.Kind, relation)
}

func (s *Service) jobs(ctx context.Context, ref store.Ref, edge string, dir store.Direction) (*Related, error) {
	jobs, err := store.TraverseJobs(ctx, s.store, ref, edge, dir, store.JobFilter{})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	return &Related{Jobs: jobs}, nil
}

// Activity lists what a user currently holds.
type Activity struct {
	Usage     throttle.Usage
	Running   []store.Job
	Debugging []store.Job
}

// Activity returns the user's running and debugging jobs with the
// throttle usage they add up to.
func (s *Service) Activity(ctx context.Context, user string) (*Activity, error) {
	if _, err := s.store.GetUser(ctx, user); err != nil {
		return nil, err
	}
	usage, err := s.throttle.Usage(ctx, user)
	if err != nil {
		return nil, err
	}
	jobs, err := store.OwnedJobs(ctx, s.store, user)
	if err != nil {
		return nil, err
	}

	a := &Activity{Usage: usage, Running: []store.Job{}, Debugging: []store.Job{}}
	// Every job listed here is one counted by the throttle guard.
	for _, j := range jobs {
		switch {
		case !throttle.Holds(&j):
		case j.Status == store.JobStatusRunning:
			a.Running = append(a.Running, j)
		default:
			a.Debugging = append(a.Debugging, j)
		}
	}
	sort.Slice(a.Running, func(i, j int) bool { return a.Running[i].ID < a.Running[j].ID })
	sort.Slice(a.Debugging, func(i, j int) bool { return a.Debugging[i].DebugEnd.Before(*a.Debugging[j].DebugEnd) })
	return a, nil
}

// Summary renders the activity for people.
func (a *Activity) Summary(now time.Time) string {
	var b strings.Builder
	limit := "unlimited"
	if a.Usage.Limit > 0 {
		limit = fmt.Sprint(a.Usage.Limit)
	}
	fmt.Fprintf(&b, "%s holds %d of %s slots: %d running, %d debugging\n",
		a.Usage.User, a.Usage.OpCount, limit, len(a.Running), len(a.Debugging))

	for _, j := range a.Running {
		since := "unknown"
		if j.StartT != nil {
			since = j.StartT.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "  RUNNING   %-6s %d since %s %s\n", j.Kind, j.ID, since, j.LogDir)
	}
	for _, j := range a.Debugging {
		left := j.DebugEnd.Sub(now).Truncate(time.Minute)
		fmt.Fprintf(&b, "  DEBUGGING %-6s %d until %s (%s left)\n", j.Kind, j.ID, j.DebugEnd.UTC().Format(time.RFC3339), left)
	}
	return b.String()
}
