// Package store provides persistent storage for coven-inbox using SQLite.
//
// # Architecture
//
// The store package exposes small interfaces so consumers depend only on
// what they use:
//
//   - ProfileStore: identity records (id, email, full name)
//   - RoleStore: one role row per user (admin or user)
//   - MessageStore: the append-only chat message log
//
// Store composes all three. SQLiteStore and MockStore implement Store.
//
// # Messages
//
// A Message is immutable once inserted. ReceiverID is optional: a nil
// receiver encodes a user message addressed to the admin pool. Messages
// flagged IsAdminMessage always carry a receiver; InsertMessage rejects
// them otherwise with ErrMissingReceiver.
//
// Ordering is (created_at, id) ascending everywhere, including queries
// with Descending set (which simply reverses it). created_at is stored as
// unix nanoseconds so SQL ordering matches Message.Less exactly.
//
// # Roles
//
// GetRole returns ErrNotFound when no row exists. Callers treat a missing
// role as RoleUser; the store never escalates anyone to admin.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Testing
//
// Use NewMockStore() for unit tests. FailNext injects an error into the
// next call of a named method. Use NewSQLiteStore with a t.TempDir() path
// for integration tests with real SQLite.
package store
