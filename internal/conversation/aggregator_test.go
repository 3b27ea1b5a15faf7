// ABOUTME: Tests for the conversation aggregator
// ABOUTME: Covers admin and user scopes, placeholder ordering and bounded fan-out

package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/routing"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

var (
	adminA = session.Identity{UserID: "a1", Email: "ops@example.com", DisplayName: "ops"}
	adminB = session.Identity{UserID: "a2", Email: "lead@example.com", DisplayName: "lead"}
	userU  = session.Identity{UserID: "u1", Email: "jane@example.com", DisplayName: "Jane"}
	userV  = session.Identity{UserID: "u2", Email: "vic@example.com", DisplayName: "vic"}
	userW  = session.Identity{UserID: "u3", Email: "walt@example.com", DisplayName: "walt"}
)

// seedStore creates two admins and three users.
func seedStore(t *testing.T) *store.MockStore {
	t.Helper()
	ms := store.NewMockStore()
	ctx := context.Background()
	for _, p := range []*store.Profile{
		{ID: "a1", Email: "ops@example.com"},
		{ID: "a2", Email: "lead@example.com"},
		{ID: "u1", Email: "jane@example.com", FullName: "Jane"},
		{ID: "u2", Email: "vic@example.com"},
		{ID: "u3", Email: "walt@example.com"},
	} {
		require.NoError(t, ms.CreateProfile(ctx, p))
	}
	require.NoError(t, ms.SetRole(ctx, "a1", store.RoleAdmin))
	require.NoError(t, ms.SetRole(ctx, "a2", store.RoleAdmin))
	require.NoError(t, ms.SetRole(ctx, "u1", store.RoleUser))
	return ms
}

func insert(t *testing.T, ms store.MessageStore, msg *store.Message) *store.Message {
	t.Helper()
	stored, err := ms.InsertMessage(context.Background(), msg)
	require.NoError(t, err)
	return stored
}

func ids(cs []Conversation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.CounterpartID
	}
	return out
}

func TestAggregator_AdminSeesNonAdminsNewestFirst(t *testing.T) {
	ms := seedStore(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	placeholderAt := base.Add(time.Hour)

	insert(t, ms, &store.Message{SenderID: "u1", Body: "hello", CreatedAt: base})
	insert(t, ms, &store.Message{SenderID: "a2", ReceiverID: strPtr("u2"), Body: "checking in", IsAdminMessage: true, CreatedAt: base.Add(time.Minute)})

	agg := NewAggregator(ms, nil, AggregatorOptions{Now: func() time.Time { return placeholderAt }})
	list, err := agg.ListConversations(t.Context(), adminA, session.RoleAdmin)
	require.NoError(t, err)

	// u3 has no messages; its placeholder is newer than every real entry but sorts last.
	assert.Equal(t, []string{"u2", "u1", "u3"}, ids(list))

	assert.Equal(t, "checking in", list[0].LastMessageBody)
	assert.Equal(t, "vic", list[0].CounterpartDisplayName)
	assert.True(t, list[0].HasMessages)

	assert.Equal(t, "Jane", list[1].CounterpartDisplayName)
	assert.Equal(t, "hello", list[1].LastMessageBody)

	assert.False(t, list[2].HasMessages)
	assert.Equal(t, Placeholder, list[2].LastMessageBody)
	assert.True(t, list[2].LastMessageAt.Equal(placeholderAt))
}

func TestAggregator_UserSeesAdminPool(t *testing.T) {
	ms := seedStore(t)
	agg := NewAggregator(ms, nil, AggregatorOptions{})

	list, err := agg.ListConversations(t.Context(), userU, session.RoleUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, routing.AdminPool, list[0].CounterpartID)
	assert.Equal(t, AdminPoolDisplayName, list[0].CounterpartDisplayName)
	assert.False(t, list[0].HasMessages)

	insert(t, ms, &store.Message{SenderID: "a1", ReceiverID: strPtr("u1"), Body: "welcome", IsAdminMessage: true})
	list, err = agg.ListConversations(t.Context(), userU, session.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "welcome", list[0].LastMessageBody)
	assert.True(t, list[0].HasMessages)
}

func TestAggregator_Errors(t *testing.T) {
	ms := seedStore(t)
	agg := NewAggregator(ms, nil, AggregatorOptions{})
	ctx := t.Context()

	_, err := agg.ListConversations(ctx, userU, session.RoleUnknown)
	assert.ErrorIs(t, err, routing.ErrUnknownRole)

	boom := errors.New("store offline")
	ms.FailNext("LatestMessage", boom)
	_, err = agg.ListConversations(ctx, adminA, session.RoleAdmin)
	assert.ErrorIs(t, err, boom)

	ms.FailNext("ListProfiles", boom)
	_, err = agg.ListConversations(ctx, adminA, session.RoleAdmin)
	assert.ErrorIs(t, err, boom)
}

// countingStore records the peak number of concurrent LatestMessage calls.
type countingStore struct {
	*store.MockStore
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingStore) LatestMessage(ctx context.Context, id string) (*store.Message, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return c.MockStore.LatestMessage(ctx, id)
}

func TestAggregator_BoundedConcurrency(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateProfile(ctx, &store.Profile{ID: "admin", Email: "admin@example.com"}))
	require.NoError(t, ms.SetRole(ctx, "admin", store.RoleAdmin))
	for i := range 12 {
		id := string(rune('a' + i))
		require.NoError(t, ms.CreateProfile(ctx, &store.Profile{ID: id, Email: id + "@example.com"}))
	}

	cs := &countingStore{MockStore: ms}
	agg := NewAggregator(cs, nil, AggregatorOptions{Concurrency: 3})

	list, err := agg.ListConversations(t.Context(), session.Identity{UserID: "admin"}, session.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, list, 12)
	assert.LessOrEqual(t, cs.peak.Load(), int32(3))
	assert.Greater(t, cs.peak.Load(), int32(1), "lookups should overlap")
}

func TestSortConversations_PlaceholdersNeverPrecedeReal(t *testing.T) {
	now := time.Now()
	cs := []Conversation{
		{CounterpartID: "p2", LastMessageAt: now.Add(time.Hour)},
		{CounterpartID: "r1", LastMessageAt: now.Add(-time.Hour), HasMessages: true},
		{CounterpartID: "p1", LastMessageAt: now.Add(time.Hour)},
		{CounterpartID: "r3", LastMessageAt: now, HasMessages: true},
		{CounterpartID: "r2", LastMessageAt: now, HasMessages: true},
	}
	sortConversations(cs)
	assert.Equal(t, []string{"r2", "r3", "r1", "p1", "p2"}, ids(cs))
}

func strPtr(s string) *string { return &s }
