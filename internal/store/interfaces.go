package store

import "context"

// JobStore persists Job vertices.
type JobStore interface {
	// UpsertJob creates or merges the job with the given id and returns the
	// stored record.
	UpsertJob(ctx context.Context, id int64, patch JobPatch) (*Job, error)

	// GetJob returns a job by id or apperr.ErrNotFound.
	GetJob(ctx context.Context, id int64) (*Job, error)

	// QueryJobs returns every job matching the filter, most recently started first.
	QueryJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// DeleteJob removes a job. Deleting a missing id is not an error.
	DeleteJob(ctx context.Context, id int64) error

	// NextJobID allocates an id for jobs submitted without one.
	NextJobID(ctx context.Context) (int64, error)
}

// NodeStore persists Node vertices.
type NodeStore interface {
	UpsertNode(ctx context.Context, name string, patch NodePatch) (*Node, error)
	GetNode(ctx context.Context, name string) (*Node, error)
	QueryNodes(ctx context.Context, filter NodeFilter) ([]Node, error)
	DeleteNode(ctx context.Context, name string) error
}

// UserStore persists User vertices.
type UserStore interface {
	UpsertUser(ctx context.Context, name string, patch UserPatch) (*User, error)
	GetUser(ctx context.Context, name string) (*User, error)
	QueryUsers(ctx context.Context, filter UserFilter) ([]User, error)
	DeleteUser(ctx context.Context, name string) error
}

// EdgeStore persists relationships.
type EdgeStore interface {
	// CreateEdge inserts the edge. Creating an existing edge is a no-op.
	CreateEdge(ctx context.Context, edge Edge) error

	// DeleteEdges removes every edge that starts or ends at ref.
	DeleteEdges(ctx context.Context, ref Ref) error

	// Traverse returns the entities one hop away from ref over edges named
	// edgeName, in creation order.
	Traverse(ctx context.Context, ref Ref, edgeName string, dir Direction) ([]Ref, error)
}

// NodeEventStore persists the node audit trail.
type NodeEventStore interface {
	AddNodeEvent(ctx context.Context, event NodeEvent) error

	// ListNodeEvents returns up to limit events with ID greater than afterID.
	ListNodeEvents(ctx context.Context, nodeName string, afterID int64, limit int) ([]NodeEvent, error)
}

// EntityStore is the sole owner of persisted state. Every operation is
// atomic for a single record; there are no cross-record transactions.
type EntityStore interface {
	JobStore
	NodeStore
	UserStore
	EdgeStore
	NodeEventStore

	Ping(ctx context.Context) error
	Close() error
}

// UserLocker is implemented by stores that can serialize work per user
// across controller replicas.
type UserLocker interface {
	// LockUser blocks until the user's lock is held and returns the
	// function that releases it.
	LockUser(ctx context.Context, name string) (unlock func(), err error)
}
