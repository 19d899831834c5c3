package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertRole stores the guild role ID for a well-known role name
// ("mod", "talk", "wg_and_teams"). Config values win over stored ones at
// startup; the table keeps the last known mapping across restarts.
func (s *Store) UpsertRole(ctx context.Context, name, roleID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO roles (name, role_id, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET role_id = excluded.role_id, updated_at = CURRENT_TIMESTAMP;
		`, name, roleID)
		if err != nil {
			return fmt.Errorf("upsert role %s: %w", name, err)
		}
		return nil
	})
}

// RoleID returns the stored role ID for a name, or empty when unknown.
func (s *Store) RoleID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT role_id FROM roles WHERE name = ?;`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select role %s: %w", name, err)
	}
	return id, nil
}

// Roles returns the full name to role ID mapping.
func (s *Store) Roles(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, role_id FROM roles;`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("role rows: %w", err)
	}
	return out, nil
}
