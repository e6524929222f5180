package postgres

import (
	"context"

	"cifleet/internal/store"
)

func (s *Store) AddNodeEvent(ctx context.Context, event store.NodeEvent) error {
	query := `INSERT INTO node_events (node_name, event, message, job_id) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, event.NodeName, event.Event, event.Message, event.JobID)
	return err
}

func (s *Store) ListNodeEvents(ctx context.Context, nodeName string, afterID int64, limit int) ([]store.NodeEvent, error) {
	query := `
		SELECT id, node_name, event, message, job_id, created_at
		FROM node_events
		WHERE node_name = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, nodeName, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.NodeEvent
	for rows.Next() {
		var e store.NodeEvent
		if err := rows.Scan(&e.ID, &e.NodeName, &e.Event, &e.Message, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
