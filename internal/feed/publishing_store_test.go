// ABOUTME: Tests for PublishingStore
// ABOUTME: Confirms persist-then-publish ordering and that failed appends publish nothing

package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/store"
)

func TestPublishingStore_PublishesStoredRow(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()
	backing := store.NewMockStore()
	ps := NewPublishingStore(backing, b, nil)
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, MessageInserts)
	require.NoError(t, err)

	stored, err := ps.InsertMessage(ctx, &store.Message{SenderID: "u1", Body: "hello"})
	require.NoError(t, err)

	e := receive(t, sub)
	assert.Equal(t, stored.ID, e.Message.ID)

	// The row was durable before the event was published.
	rows, err := backing.QueryMessages(ctx, store.MessageFilter{Participant: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stored.ID, rows[0].ID)
}

func TestPublishingStore_FailedInsertPublishesNothing(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()
	backing := store.NewMockStore()
	ps := NewPublishingStore(backing, b, nil)
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, MessageInserts)
	require.NoError(t, err)

	backing.FailNext("InsertMessage", errors.New("disk full"))
	_, err = ps.InsertMessage(ctx, &store.Message{SenderID: "u1", Body: "hello"})
	require.Error(t, err)

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %v", e.Message.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishingStore_PublishFailureStillReturnsRow(t *testing.T) {
	b := NewBroadcaster(0, nil)
	require.NoError(t, b.Close())
	ps := NewPublishingStore(store.NewMockStore(), b, nil)

	stored, err := ps.InsertMessage(context.Background(), &store.Message{SenderID: "u1", Body: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
}
