package store

import (
	"context"
	"errors"
	"fmt"

	"cifleet/internal/apperr"
)

// TraverseJobs follows one hop from ref and loads the target jobs that match
// filter. Edges whose target no longer exists are skipped.
func TraverseJobs(ctx context.Context, s EntityStore, ref Ref, edgeName string, dir Direction, filter JobFilter) ([]Job, error) {
	refs, err := s.Traverse(ctx, ref, edgeName, dir)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	for _, r := range refs {
		if r.Type != EntityJob {
			continue
		}
		id, err := r.JobID()
		if err != nil {
			continue
		}
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(job) {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// TraverseNodes follows one hop from ref and loads the target nodes that
// match filter.
func TraverseNodes(ctx context.Context, s EntityStore, ref Ref, edgeName string, dir Direction, filter NodeFilter) ([]Node, error) {
	refs, err := s.Traverse(ctx, ref, edgeName, dir)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	for _, r := range refs {
		if r.Type != EntityNode {
			continue
		}
		node, err := s.GetNode(ctx, r.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(node) {
			nodes = append(nodes, *node)
		}
	}
	return nodes, nil
}

// NodesOf returns the nodes a job ran on.
func NodesOf(ctx context.Context, s EntityStore, job *Job) ([]Node, error) {
	edge := job.Kind.Spec().NodeEdge
	if edge == "" {
		return nil, nil
	}
	return TraverseNodes(ctx, s, JobRef(job.ID), edge, Outbound, NodeFilter{})
}

// ParentOf returns the top-level job that spawned job. It returns nil for
// top-level jobs and for sub-jobs whose parent edge has not been written yet.
// A test job without a parent edge inherits the parent of the build it reuses.
func ParentOf(ctx context.Context, s EntityStore, job *Job) (*Job, error) {
	spec := job.Kind.Spec()
	if spec.TopLevel {
		return nil, nil
	}

	parents, err := TraverseJobs(ctx, s, JobRef(job.ID), spec.ParentEdge, Inbound, JobFilter{})
	if err != nil {
		return nil, err
	}
	if len(parents) > 0 {
		return &parents[0], nil
	}

	if job.Kind == KindTest {
		builds, err := TraverseJobs(ctx, s, JobRef(job.ID), EdgeBuildTest, Inbound, JobFilter{})
		if err != nil {
			return nil, err
		}
		if len(builds) > 0 {
			return ParentOf(ctx, s, &builds[0])
		}
	}
	return nil, nil
}

// RootOf returns the top-level job owning job, or job itself when it is top-level.
func RootOf(ctx context.Context, s EntityStore, job *Job) (*Job, error) {
	if job.Kind.Spec().TopLevel {
		return job, nil
	}
	parent, err := ParentOf(ctx, s, job)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, apperr.NotFound("parent of job", fmt.Sprint(job.ID))
	}
	return parent, nil
}

// OwnerOf resolves the user that owns job through user_request_info, via
// the parent top-level job when job is a sub-job.
func OwnerOf(ctx context.Context, s EntityStore, job *Job) (*User, error) {
	root, err := RootOf(ctx, s, job)
	if err != nil {
		return nil, err
	}

	refs, err := s.Traverse(ctx, JobRef(root.ID), EdgeUserRequest, Inbound)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		if r.Type != EntityUser {
			continue
		}
		return s.GetUser(ctx, r.ID)
	}
	return nil, apperr.NotFound("owner of job", fmt.Sprint(job.ID))
}

// OwnedJobs returns the top-level jobs of a user followed by all their
// sub-jobs. Each job appears once.
func OwnedJobs(ctx context.Context, s EntityStore, userName string) ([]Job, error) {
	roots, err := TraverseJobs(ctx, s, UserRef(userName), EdgeUserRequest, Outbound, JobFilter{})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(roots))
	jobs := make([]Job, 0, len(roots))
	for _, root := range roots {
		if seen[root.ID] {
			continue
		}
		seen[root.ID] = true
		jobs = append(jobs, root)
	}

	for _, root := range roots {
		for _, edge := range []string{EdgeMWHBuild, EdgeMWHTest} {
			subs, err := TraverseJobs(ctx, s, JobRef(root.ID), edge, Outbound, JobFilter{})
			if err != nil {
				return nil, err
			}
			for _, sub := range subs {
				if seen[sub.ID] {
					continue
				}
				seen[sub.ID] = true
				jobs = append(jobs, sub)
			}
		}
	}
	return jobs, nil
}
