package postgres

import (
	"context"
	"fmt"
)

// userLockClass namespaces the advisory locks taken for users.
const userLockClass = 1

// LockUser takes a session advisory lock keyed by the user name on a
// dedicated connection, so submissions by the same user are serialized
// across controller replicas.
func (s *Store) LockUser(ctx context.Context, name string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for user lock: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, hashtext($2))`, userLockClass, name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lock user %s: %w", name, err)
	}

	return func() {
		// A fresh context: the caller's may already be cancelled.
		conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1, hashtext($2))`, userLockClass, name)
		conn.Close()
	}, nil
}
