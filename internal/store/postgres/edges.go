package postgres

import (
	"context"
	"fmt"

	"cifleet/internal/store"
)

// CreateEdge inserts the edge; an existing (from, name, to) triple is left alone.
func (s *Store) CreateEdge(ctx context.Context, edge store.Edge) error {
	query := `
		INSERT INTO edges (from_type, from_id, edge_name, to_type, to_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		string(edge.From.Type), edge.From.ID, edge.Name, string(edge.To.Type), edge.To.ID)
	if err != nil {
		return fmt.Errorf("create edge %s: %w", edge.Name, err)
	}
	return nil
}

func (s *Store) DeleteEdges(ctx context.Context, ref store.Ref) error {
	query := `
		DELETE FROM edges
		WHERE (from_type = $1 AND from_id = $2) OR (to_type = $1 AND to_id = $2)
	`
	_, err := s.db.ExecContext(ctx, query, string(ref.Type), ref.ID)
	return err
}

func (s *Store) Traverse(ctx context.Context, ref store.Ref, edgeName string, dir store.Direction) ([]store.Ref, error) {
	query := `
		SELECT to_type, to_id FROM edges
		WHERE from_type = $1 AND from_id = $2 AND edge_name = $3
		ORDER BY created_at, to_id
	`
	if dir == store.Inbound {
		query = `
			SELECT from_type, from_id FROM edges
			WHERE to_type = $1 AND to_id = $2 AND edge_name = $3
			ORDER BY created_at, from_id
		`
	}

	rows, err := s.db.QueryContext(ctx, query, string(ref.Type), ref.ID, edgeName)
	if err != nil {
		return nil, fmt.Errorf("traverse %s: %w", edgeName, err)
	}
	defer rows.Close()

	var refs []store.Ref
	for rows.Next() {
		var r store.Ref
		if err := rows.Scan(&r.Type, &r.ID); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
