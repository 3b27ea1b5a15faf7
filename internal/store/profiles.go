// ABOUTME: Profile store methods for the identity records users sign in as
// ABOUTME: Profiles carry email and optional full name; roles are stored separately

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProfile inserts a profile. Returns ErrDuplicateProfile when the id or email
// is already taken.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO profiles (id, email, full_name, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Email,
		nullString(p.FullName),
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateProfile
		}
		return fmt.Errorf("inserting profile: %w", err)
	}

	s.logger.Debug("created profile", "id", p.ID, "email", p.Email)
	return nil
}

// GetProfile retrieves a profile by id.
// Returns ErrNotFound if the profile doesn't exist.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT id, email, full_name, created_at
		FROM profiles
		WHERE id = ?
	`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by email.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	query := `
		SELECT id, email, full_name, created_at
		FROM profiles
		ORDER BY email
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile rows: %w", err)
	}

	return profiles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var fullName sql.NullString
	var createdAtStr string

	if err := row.Scan(&p.ID, &p.Email, &fullName, &createdAtStr); err != nil {
		return nil, err
	}

	p.FullName = fullName.String
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = createdAt
	return &p, nil
}
