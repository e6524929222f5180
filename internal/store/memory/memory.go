// Package memory implements store.EntityStore in process memory. It backs
// the controller's dev mode and the service tests.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"cifleet/internal/apperr"
	"cifleet/internal/store"
)

type edgeKey struct {
	from store.Ref
	name string
	to   store.Ref
}

// Store keeps every record behind one RWMutex, which gives single-record
// atomicity for free.
type Store struct {
	mu     sync.RWMutex
	jobs   map[int64]*store.Job
	nodes  map[string]*store.Node
	users  map[string]*store.User
	edges  []store.Edge
	edgeIx map[edgeKey]bool
	events []store.NodeEvent

	nextJobID   int64
	nextEventID int64
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:      make(map[int64]*store.Job),
		nodes:     make(map[string]*store.Node),
		users:     make(map[string]*store.User),
		edgeIx:    make(map[edgeKey]bool),
		nextJobID: 1,
		now:       time.Now,
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// UpsertJob implements store.JobStore.
func (s *Store) UpsertJob(ctx context.Context, id int64, patch store.JobPatch) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		if patch.Kind == nil || !patch.Kind.Valid() {
			return nil, apperr.Validation("job_kind is required to create job %d", id)
		}
		job = &store.Job{ID: id, Status: store.JobStatusRunning, SkipBuild: "false"}
		s.jobs[id] = job
	}
	patch.Apply(job)
	job.UpdatedAt = s.now().UTC()
	if id >= s.nextJobID {
		s.nextJobID = id + 1
	}

	out := *job
	return &out, nil
}

// GetJob implements store.JobStore.
func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job", itoa(id))
	}
	out := *job
	return &out, nil
}

// QueryJobs implements store.JobStore.
func (s *Store) QueryJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []store.Job
	for _, job := range s.jobs {
		if filter.Match(job) {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		ti, tj := startOf(&jobs[i]), startOf(&jobs[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return jobs[i].ID > jobs[j].ID
	})
	return jobs, nil
}

func startOf(j *store.Job) time.Time {
	if j.StartT == nil {
		return time.Time{}
	}
	return *j.StartT
}

// DeleteJob implements store.JobStore.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// NextJobID implements store.JobStore.
func (s *Store) NextJobID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextJobID
	s.nextJobID++
	return id, nil
}

// UpsertNode implements store.NodeStore.
func (s *Store) UpsertNode(ctx context.Context, name string, patch store.NodePatch) (*store.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[name]
	if !ok {
		node = &store.Node{Name: name, Status: store.NodeStatusOnline}
		s.nodes[name] = node
	}
	patch.Apply(node)
	node.UpdatedAt = s.now().UTC()

	out := *node
	return &out, nil
}

// GetNode implements store.NodeStore.
func (s *Store) GetNode(ctx context.Context, name string) (*store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[name]
	if !ok {
		return nil, apperr.NotFound("node", name)
	}
	out := *node
	return &out, nil
}

// QueryNodes implements store.NodeStore.
func (s *Store) QueryNodes(ctx context.Context, filter store.NodeFilter) ([]store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []store.Node
	for _, node := range s.nodes {
		if filter.Match(node) {
			nodes = append(nodes, *node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// DeleteNode implements store.NodeStore.
func (s *Store) DeleteNode(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, name)
	return nil
}

// UpsertUser implements store.UserStore.
func (s *Store) UpsertUser(ctx context.Context, name string, patch store.UserPatch) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[name]
	if !ok {
		user = &store.User{Name: name, CreatedAt: s.now().UTC()}
		s.users[name] = user
	}
	patch.Apply(user)

	out := *user
	return &out, nil
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, name string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[name]
	if !ok {
		return nil, apperr.NotFound("user", name)
	}
	out := *user
	return &out, nil
}

// QueryUsers implements store.UserStore.
func (s *Store) QueryUsers(ctx context.Context, filter store.UserFilter) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []store.User
	for _, user := range s.users {
		if filter.Match(user) {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// DeleteUser implements store.UserStore.
func (s *Store) DeleteUser(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, name)
	return nil
}

// CreateEdge implements store.EdgeStore.
func (s *Store) CreateEdge(ctx context.Context, edge store.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{from: edge.From, name: edge.Name, to: edge.To}
	if s.edgeIx[key] {
		return nil
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = s.now().UTC()
	}
	s.edgeIx[key] = true
	s.edges = append(s.edges, edge)
	return nil
}

// DeleteEdges implements store.EdgeStore.
func (s *Store) DeleteEdges(ctx context.Context, ref store.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.From == ref || e.To == ref {
			delete(s.edgeIx, edgeKey{from: e.From, name: e.Name, to: e.To})
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	return nil
}

// Traverse implements store.EdgeStore.
func (s *Store) Traverse(ctx context.Context, ref store.Ref, edgeName string, dir store.Direction) ([]store.Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []store.Ref
	for _, e := range s.edges {
		if e.Name != edgeName {
			continue
		}
		switch {
		case dir == store.Outbound && e.From == ref:
			refs = append(refs, e.To)
		case dir == store.Inbound && e.To == ref:
			refs = append(refs, e.From)
		}
	}
	return refs, nil
}

// AddNodeEvent implements store.NodeEventStore.
func (s *Store) AddNodeEvent(ctx context.Context, event store.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	event.ID = s.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

// ListNodeEvents implements store.NodeEventStore.
func (s *Store) ListNodeEvents(ctx context.Context, nodeName string, afterID int64, limit int) ([]store.NodeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []store.NodeEvent
	for _, e := range s.events {
		if e.NodeName != nodeName || e.ID <= afterID {
			continue
		}
		events = append(events, e)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
