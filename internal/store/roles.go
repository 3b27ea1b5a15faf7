// ABOUTME: Role entity and store methods for authorization
// ABOUTME: One role row per user; a missing row means the least-privileged user role

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RoleName represents a role that can be assigned
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// ValidRoleNames lists all valid role names
var ValidRoleNames = []RoleName{
	RoleAdmin,
	RoleUser,
}

// Valid reports whether r is a known role.
func (r RoleName) Valid() bool {
	for _, v := range ValidRoleNames {
		if r == v {
			return true
		}
	}
	return false
}

// SetRole assigns a role to a user, replacing any previous row.
func (s *SQLiteStore) SetRole(ctx context.Context, userID string, role RoleName) error {
	if !role.Valid() {
		return fmt.Errorf("setting role: unknown role %q", role)
	}

	query := `
		INSERT INTO user_roles (user_id, role, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET role = excluded.role
	`

	_, err := s.db.ExecContext(ctx, query,
		userID,
		string(role),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("setting role: %w", err)
	}

	s.logger.Debug("set role", "user_id", userID, "role", role)
	return nil
}

// GetRole returns the role row for a user. Returns ErrNotFound when the user has no row;
// callers decide the default.
func (s *SQLiteStore) GetRole(ctx context.Context, userID string) (RoleName, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM user_roles WHERE user_id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying role: %w", err)
	}
	return RoleName(role), nil
}

// ListRoles returns the ids of every user holding the given role. Returns an empty slice
// if nobody holds it.
func (s *SQLiteStore) ListRoles(ctx context.Context, role RoleName) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_roles WHERE role = ? ORDER BY user_id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return ids, nil
}
