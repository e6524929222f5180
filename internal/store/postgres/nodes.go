package postgres

import (
	"context"
	"fmt"
	"strings"

	"cifleet/internal/store"
)

const nodeColumns = "node_name, ip, status, offline_message, bound_job, log_dir, updated_at"

func scanNode(row rowScanner) (*store.Node, error) {
	var n store.Node
	if err := row.Scan(&n.Name, &n.IP, &n.Status, &n.OfflineMessage, &n.BoundJob, &n.LogDir, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// UpsertNode creates the node online or merges the set fields.
func (s *Store) UpsertNode(ctx context.Context, name string, patch store.NodePatch) (*store.Node, error) {
	query := `
		INSERT INTO nodes (node_name, ip, status, offline_message, bound_job, log_dir, updated_at)
		VALUES ($1, COALESCE($2, ''), COALESCE($3, 'online'), COALESCE($4, ''), COALESCE($5, 0), COALESCE($6, ''), NOW())
		ON CONFLICT (node_name) DO UPDATE SET
			ip = COALESCE($2, nodes.ip),
			status = COALESCE($3, nodes.status),
			offline_message = COALESCE($4, nodes.offline_message),
			bound_job = COALESCE($5, nodes.bound_job),
			log_dir = COALESCE($6, nodes.log_dir),
			updated_at = NOW()
		RETURNING ` + nodeColumns

	return scanNode(s.db.QueryRowContext(ctx, query,
		name,
		nullString(patch.IP),
		nullString(patch.Status),
		nullString(patch.OfflineMessage),
		nullInt64(patch.BoundJob),
		nullString(patch.LogDir),
	))
}

func (s *Store) GetNode(ctx context.Context, name string) (*store.Node, error) {
	query := "SELECT " + nodeColumns + " FROM nodes WHERE node_name = $1"

	node, err := scanNode(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, notFound(err, "node", name)
	}
	return node, nil
}

func (s *Store) QueryNodes(ctx context.Context, filter store.NodeFilter) ([]store.Node, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.BoundJob != nil {
		args = append(args, *filter.BoundJob)
		conds = append(conds, fmt.Sprintf("bound_job = $%d", len(args)))
	}

	query := "SELECT " + nodeColumns + " FROM nodes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY node_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []store.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

func (s *Store) DeleteNode(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE node_name = $1", name)
	return err
}
