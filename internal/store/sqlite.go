// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides profile, role and message persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithLogger(path, nil)
}

// NewSQLiteStoreWithLogger is NewSQLiteStore with an explicit logger. Pass nil for default.
func NewSQLiteStoreWithLogger(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// busy_timeout is set per connection through the DSN so every pooled
	// connection waits for the writer instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			full_name  TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_roles (
			user_id    TEXT PRIMARY KEY,
			role       TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (role IN ('admin', 'user'))
		);

		CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role);

		-- created_at holds unix nanoseconds so ordering by (created_at, id)
		-- is exact and matches the in-memory ordering of live events.
		CREATE TABLE IF NOT EXISTS chat_messages (
			id               TEXT PRIMARY KEY,
			sender_id        TEXT NOT NULL,
			receiver_id      TEXT,
			message          TEXT NOT NULL,
			is_admin_message INTEGER NOT NULL DEFAULT 0,
			created_at       INTEGER NOT NULL,

			CHECK (length(trim(message)) > 0),
			CHECK (is_admin_message = 0 OR receiver_id IS NOT NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_sender
			ON chat_messages(sender_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_receiver
			ON chat_messages(receiver_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// nullString returns nil for empty strings, otherwise the string pointer
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
