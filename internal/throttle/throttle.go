// Package throttle limits how many jobs a user may hold at once.
package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cifleet/internal/apperr"
	"cifleet/internal/keylock"
	"cifleet/internal/store"

	"gopkg.in/yaml.v3"
)

// DefaultLimit applies to users without an exemption.
const DefaultLimit = 3

// Exemptions maps a user name to a personal limit. Zero means unlimited.
type Exemptions map[string]int

// LoadExemptions reads an exemption table such as
//
//	ci-bot: 0
//	release-team: 10
//
// An empty path yields an empty table.
func LoadExemptions(path string) (Exemptions, error) {
	if path == "" {
		return Exemptions{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read throttle exemptions: %w", err)
	}

	var ex Exemptions
	if err := yaml.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parse throttle exemptions %s: %w", path, err)
	}
	for user, limit := range ex {
		if limit < 0 {
			return nil, fmt.Errorf("throttle exemption for %s: negative limit %d", user, limit)
		}
	}
	if ex == nil {
		ex = Exemptions{}
	}
	return ex, nil
}

// Usage is the result of a throttle check.
type Usage struct {
	User    string `json:"user"`
	OpCount int    `json:"op_count"`
	// Limit is the effective limit. Zero means unlimited.
	Limit int `json:"limit"`
}

// Guard counts running and debugging jobs per user and rejects
// submissions past the limit.
type Guard struct {
	store  store.EntityStore
	limit  int
	exempt Exemptions
	locks  *keylock.Map
}

// NewGuard creates a guard. A non-positive limit falls back to DefaultLimit.
func NewGuard(s store.EntityStore, limit int, exempt Exemptions) *Guard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if exempt == nil {
		exempt = Exemptions{}
	}
	return &Guard{
		store:  s,
		limit:  limit,
		exempt: exempt,
		locks:  keylock.New(),
	}
}

// Limit returns the effective limit for user. Zero means unlimited.
func (g *Guard) Limit(user string) int {
	if l, ok := g.exempt[user]; ok {
		return l
	}
	return g.limit
}

// CheckThrottle returns the number of jobs user currently holds: every
// owned job still running, sub-jobs included, plus every job under a debug
// grant. A job counts once.
func (g *Guard) CheckThrottle(ctx context.Context, user string) (int, error) {
	jobs, err := store.OwnedJobs(ctx, g.store, user)
	if err != nil {
		return 0, fmt.Errorf("list jobs of %s: %w", user, err)
	}

	count := 0
	for i := range jobs {
		if Holds(&jobs[i]) {
			count++
		}
	}
	return count, nil
}

// Holds reports whether job takes one of its owner's slots.
func Holds(job *store.Job) bool {
	return job.Status == store.JobStatusRunning || job.Debugging()
}

// Usage reports the op count together with the effective limit.
func (g *Guard) Usage(ctx context.Context, user string) (Usage, error) {
	count, err := g.CheckThrottle(ctx, user)
	if err != nil {
		return Usage{}, err
	}
	return Usage{User: user, OpCount: count, Limit: g.Limit(user)}, nil
}

// Admit fails with a *apperr.ThrottleError once the user's op count has
// reached the effective limit.
func (g *Guard) Admit(ctx context.Context, user string) error {
	limit := g.Limit(user)
	if limit == 0 {
		return nil
	}

	count, err := g.CheckThrottle(ctx, user)
	if err != nil {
		return err
	}
	if count >= limit {
		slog.InfoContext(ctx, "submission throttled", "user", user, "op_count", count, "limit", limit)
		return &apperr.ThrottleError{User: user, OpCount: count, Limit: limit}
	}
	return nil
}

// Lock serializes submissions of one user so that admission and job
// creation cannot interleave with a concurrent submission. Stores that
// implement store.UserLocker extend the lock across replicas.
func (g *Guard) Lock(ctx context.Context, user string) (func(), error) {
	if locker, ok := g.store.(store.UserLocker); ok {
		return locker.LockUser(ctx, user)
	}
	return g.locks.Lock(user), nil
}
