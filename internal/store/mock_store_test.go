// ABOUTME: Tests for MockStore
// ABOUTME: Keeps the in-memory twin consistent with SQLiteStore semantics

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_MatchesSQLiteOrdering(t *testing.T) {
	ctx := context.Background()
	at := time.Now().UTC()

	for name, s := range map[string]Store{"mock": NewMockStore(), "sqlite": newTestStore(t)} {
		t.Run(name, func(t *testing.T) {
			_, err := s.InsertMessage(ctx, &Message{ID: "b", SenderID: "u1", Body: "two", CreatedAt: at})
			require.NoError(t, err)
			_, err = s.InsertMessage(ctx, &Message{ID: "a", SenderID: "u1", Body: "one", CreatedAt: at})
			require.NoError(t, err)
			_, err = s.InsertMessage(ctx, &Message{ID: "z", SenderID: "admin", ReceiverID: strPtr("u1"), Body: "reply", IsAdminMessage: true, CreatedAt: at.Add(-time.Second)})
			require.NoError(t, err)

			msgs, err := s.QueryMessages(ctx, MessageFilter{Participant: "u1"})
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "z", msgs[0].ID)
			assert.Equal(t, "a", msgs[1].ID)
			assert.Equal(t, "b", msgs[2].ID)

			latest, err := s.LatestMessage(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "b", latest.ID)
		})
	}
}

func TestMockStore_FailNextIsConsumed(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext("GetRole", boom)

	_, err := m.GetRole(ctx, "u1")
	assert.ErrorIs(t, err, boom)

	_, err = m.GetRole(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, m.Calls("GetRole"))
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.CreateProfile(ctx, &Profile{ID: "u1", Email: "u1@example.com"}))
	p, err := m.GetProfile(ctx, "u1")
	require.NoError(t, err)
	p.Email = "changed@example.com"

	again, err := m.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", again.Email)
}
