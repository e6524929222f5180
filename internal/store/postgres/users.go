package postgres

import (
	"context"
	"fmt"

	"cifleet/internal/store"
)

func (s *Store) UpsertUser(ctx context.Context, name string, patch store.UserPatch) (*store.User, error) {
	query := `
		INSERT INTO users (user_name, email, created_at)
		VALUES ($1, COALESCE($2, ''), NOW())
		ON CONFLICT (user_name) DO UPDATE SET email = COALESCE($2, users.email)
		RETURNING user_name, email, created_at
	`

	var u store.User
	err := s.db.QueryRowContext(ctx, query, name, nullString(patch.Email)).Scan(&u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, name string) (*store.User, error) {
	query := "SELECT user_name, email, created_at FROM users WHERE user_name = $1"

	var u store.User
	err := s.db.QueryRowContext(ctx, query, name).Scan(&u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user", name)
	}
	return &u, nil
}

func (s *Store) QueryUsers(ctx context.Context, filter store.UserFilter) ([]store.User, error) {
	query := "SELECT user_name, email, created_at FROM users"
	var args []any
	if filter.Email != nil {
		query += " WHERE email = $1"
		args = append(args, *filter.Email)
	}
	query += " ORDER BY user_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE user_name = $1", name)
	return err
}
