// ABOUTME: Tests for the routing policy
// ABOUTME: Covers view membership per role and the asymmetric addressing rules

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/store"
)

func ptr(s string) *string { return &s }

func TestMatches_UserView(t *testing.T) {
	broadcast := &store.Message{SenderID: "u1", Body: "hello"}
	reply := &store.Message{SenderID: "a1", ReceiverID: ptr("u1"), Body: "hi", IsAdminMessage: true}
	otherUser := &store.Message{SenderID: "u2", Body: "not mine"}
	replyToOther := &store.Message{SenderID: "a1", ReceiverID: ptr("u2"), Body: "not mine", IsAdminMessage: true}

	assert.True(t, Matches(broadcast, "u1", AdminPool, store.RoleUser))
	assert.True(t, Matches(reply, "u1", AdminPool, store.RoleUser))
	assert.False(t, Matches(otherUser, "u1", AdminPool, store.RoleUser))
	assert.False(t, Matches(replyToOther, "u1", AdminPool, store.RoleUser))
}

func TestMatches_AdminView(t *testing.T) {
	broadcast := &store.Message{SenderID: "u1", Body: "hello"}
	myReply := &store.Message{SenderID: "a1", ReceiverID: ptr("u1"), Body: "hi", IsAdminMessage: true}
	colleagueReply := &store.Message{SenderID: "a2", ReceiverID: ptr("u1"), Body: "also hi", IsAdminMessage: true}
	otherThread := &store.Message{SenderID: "u2", Body: "elsewhere"}

	assert.True(t, Matches(broadcast, "a1", "u1", store.RoleAdmin))
	assert.True(t, Matches(myReply, "a1", "u1", store.RoleAdmin))
	assert.True(t, Matches(colleagueReply, "a1", "u1", store.RoleAdmin), "any admin may see any user's thread")
	assert.False(t, Matches(otherThread, "a1", "u1", store.RoleAdmin))
}

func TestMatches_NoSelectionOrUnknownRole(t *testing.T) {
	msg := &store.Message{SenderID: "u1", Body: "hello"}

	assert.False(t, Matches(msg, "a1", "", store.RoleAdmin))
	assert.False(t, Matches(msg, "u1", AdminPool, ""))
	assert.False(t, Matches(nil, "u1", AdminPool, store.RoleUser))
}

func TestAddress_User(t *testing.T) {
	out, err := Address("  hello  ", "u1", store.RoleUser, "ignored")
	require.NoError(t, err)

	assert.Equal(t, "u1", out.SenderID)
	assert.Nil(t, out.ReceiverID)
	assert.False(t, out.IsAdminMessage)
	assert.Equal(t, "hello", out.Body)
}

func TestAddress_Admin(t *testing.T) {
	out, err := Address("hi", "a1", store.RoleAdmin, "u1")
	require.NoError(t, err)

	require.NotNil(t, out.ReceiverID)
	assert.Equal(t, "u1", *out.ReceiverID)
	assert.True(t, out.IsAdminMessage)

	msg := out.Message()
	assert.Equal(t, "a1", msg.SenderID)
	assert.Equal(t, "u1", msg.Receiver())
	assert.Empty(t, msg.ID, "ids are assigned by the store")
}

func TestAddress_Errors(t *testing.T) {
	_, err := Address("   ", "u1", store.RoleUser, "")
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = Address("hi", "a1", store.RoleAdmin, "")
	assert.ErrorIs(t, err, ErrNoCounterpart)

	_, err = Address("hi", "a1", store.RoleAdmin, AdminPool)
	assert.ErrorIs(t, err, ErrNoCounterpart)

	_, err = Address("hi", "x", "", "u1")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestAddress_RoundTripAgainstMatches(t *testing.T) {
	userOut, err := Address("hello", "u1", store.RoleUser, "")
	require.NoError(t, err)
	userMsg := userOut.Message()

	assert.True(t, Matches(userMsg, "u1", AdminPool, store.RoleUser), "sender sees own broadcast")
	assert.True(t, Matches(userMsg, "a1", "u1", store.RoleAdmin), "admin sees user's broadcast")

	adminOut, err := Address("hi", "a1", store.RoleAdmin, "u1")
	require.NoError(t, err)
	adminMsg := adminOut.Message()

	assert.True(t, Matches(adminMsg, "u1", AdminPool, store.RoleUser))
	assert.False(t, Matches(adminMsg, "u2", AdminPool, store.RoleUser))
}

func TestCounterpartOf(t *testing.T) {
	assert.Equal(t, AdminPool, CounterpartOf(store.RoleUser, ""))
	assert.Equal(t, AdminPool, CounterpartOf(store.RoleUser, "u9"))
	assert.Equal(t, "u1", CounterpartOf(store.RoleAdmin, "u1"))
	assert.Equal(t, "", CounterpartOf(store.RoleAdmin, ""))
}
