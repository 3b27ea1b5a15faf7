// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers profile CRUD, role rows, message addressing invariants and ordering

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.CreateProfile(context.Background(), &Profile{ID: "u1", Email: "u1@example.com"}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	p, err := s2.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", p.Email)
}

func TestNewSQLiteStore_SchemaColumns(t *testing.T) {
	s := newTestStore(t)

	columns := func(table string) []string {
		rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
		require.NoError(t, err)
		defer rows.Close()
		var names []string
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			names = append(names, name)
		}
		require.NoError(t, rows.Err())
		return names
	}

	assert.ElementsMatch(t,
		[]string{"id", "email", "full_name", "created_at"}, columns("profiles"))
	assert.ElementsMatch(t,
		[]string{"user_id", "role", "created_at"}, columns("user_roles"))
	assert.ElementsMatch(t,
		[]string{"id", "sender_id", "receiver_id", "message", "is_admin_message", "created_at"},
		columns("chat_messages"))
}

func TestProfiles_CreateGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProfile(ctx, &Profile{ID: "b", Email: "bob@example.com", FullName: "Bob"}))
	require.NoError(t, s.CreateProfile(ctx, &Profile{ID: "a", Email: "alice@example.com"}))

	p, err := s.GetProfile(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.FullName)
	assert.Equal(t, "Bob", p.DisplayName())

	p, err = s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, p.FullName)
	assert.Equal(t, "alice", p.DisplayName())

	all, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestProfiles_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProfile(ctx, &Profile{ID: "a", Email: "a@example.com"}))
	assert.ErrorIs(t, s.CreateProfile(ctx, &Profile{ID: "a", Email: "other@example.com"}), ErrDuplicateProfile)
	assert.ErrorIs(t, s.CreateProfile(ctx, &Profile{ID: "z", Email: "a@example.com"}), ErrDuplicateProfile)
}

func TestProfiles_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProfile(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertMessage_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &Message{SenderID: "u1", Body: "hello"}
	got, err := s.InsertMessage(ctx, in)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.ReceiverID)
	assert.Empty(t, in.ID, "caller's message must not be mutated")
}

func TestInsertMessage_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMessage(ctx, &Message{SenderID: "u1", Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = s.InsertMessage(ctx, &Message{SenderID: "admin", Body: "hi", IsAdminMessage: true})
	assert.ErrorIs(t, err, ErrMissingReceiver)

	_, err = s.InsertMessage(ctx, &Message{SenderID: "admin", Body: "hi", IsAdminMessage: true, ReceiverID: strPtr("")})
	assert.ErrorIs(t, err, ErrMissingReceiver)
}

func TestQueryMessages_Participant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := s.InsertMessage(ctx, &Message{ID: "m1", SenderID: "u1", Body: "hello", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, &Message{ID: "m2", SenderID: "admin", ReceiverID: strPtr("u1"), Body: "hi", IsAdminMessage: true, CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, &Message{ID: "m3", SenderID: "u2", Body: "other", CreatedAt: base.Add(2 * time.Second)})
	require.NoError(t, err)

	msgs, err := s.QueryMessages(ctx, MessageFilter{Participant: "u1"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "u1", msgs[1].Receiver())
	assert.True(t, msgs[1].IsAdminMessage)

	admin, err := s.QueryMessages(ctx, MessageFilter{Participant: "admin"})
	require.NoError(t, err)
	require.Len(t, admin, 1)
	assert.Equal(t, "m2", admin[0].ID)

	_, err = s.QueryMessages(ctx, MessageFilter{})
	assert.Error(t, err)
}

func TestQueryMessages_TieBreakByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.InsertMessage(ctx, &Message{ID: id, SenderID: "u1", Body: "same time " + id, CreatedAt: at})
		require.NoError(t, err)
	}

	asc, err := s.QueryMessages(ctx, MessageFilter{Participant: "u1"})
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{asc[0].ID, asc[1].ID, asc[2].ID})

	desc, err := s.QueryMessages(ctx, MessageFilter{Participant: "u1", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "c", desc[0].ID)
	assert.Equal(t, "b", desc[1].ID)
}

func TestLatestMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := s.LatestMessage(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.InsertMessage(ctx, &Message{ID: "old", SenderID: "u1", Body: "first", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, &Message{ID: "new", SenderID: "admin", ReceiverID: strPtr("u1"), Body: "second", IsAdminMessage: true, CreatedAt: base.Add(time.Millisecond)})
	require.NoError(t, err)

	latest, err := s.LatestMessage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
	assert.Equal(t, "second", latest.Body)
	assert.True(t, latest.CreatedAt.Equal(base.Add(time.Millisecond)), "nanosecond timestamps round-trip")
}
