// ABOUTME: Routing policy for admin/user direct messages
// ABOUTME: Decides which messages belong to a view and how outgoing messages are addressed

// Package routing holds the pure addressing rules of the inbox.
//
// The rules are deliberately asymmetric. A user never names a receiver:
// their messages go to the admin pool (ReceiverID nil, IsAdminMessage
// false) so any admin can answer. An admin always names the user they are
// answering (ReceiverID set, IsAdminMessage true) so per-user aggregation
// can find the reply.
package routing

import (
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/store"
)

// AdminPool is the pseudo-counterpart a user converses with. It is not an account id.
const AdminPool = "admin-pool"

var (
	// ErrNoCounterpart is returned when an admin sends without selecting a user.
	ErrNoCounterpart = errors.New("no counterpart selected")
	// ErrEmptyBody is returned when the trimmed body is empty.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrUnknownRole is returned when the viewer's role has not been resolved.
	ErrUnknownRole = errors.New("viewer role is not resolved")
)

// Matches reports whether msg belongs in the conversation view of viewerID with
// counterpartID.
//
// A user sees every message they sent (including admin-pool broadcasts) and every
// message addressed to them. An admin sees every message in which the selected
// counterpart is sender or receiver, whichever admin wrote it.
func Matches(msg *store.Message, viewerID, counterpartID string, viewerRole store.RoleName) bool {
	if msg == nil {
		return false
	}
	switch viewerRole {
	case store.RoleAdmin:
		if counterpartID == "" || counterpartID == AdminPool {
			return false
		}
		return msg.Involves(counterpartID)
	case store.RoleUser:
		return msg.Involves(viewerID)
	default:
		return false
	}
}

// Outgoing carries the addressing fields of a message about to be appended.
type Outgoing struct {
	SenderID       string
	ReceiverID     *string
	Body           string
	IsAdminMessage bool
}

// Message converts the outgoing fields into a store row. The store assigns id and time.
func (o Outgoing) Message() *store.Message {
	return &store.Message{
		SenderID:       o.SenderID,
		ReceiverID:     o.ReceiverID,
		Body:           o.Body,
		IsAdminMessage: o.IsAdminMessage,
	}
}

// Address fills the addressing fields for a message written by senderID.
// The body is trimmed; admins must pass the selected counterpart, users' counterpart
// is ignored because they always write to the admin pool.
func Address(body, senderID string, viewerRole store.RoleName, counterpartID string) (Outgoing, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Outgoing{}, ErrEmptyBody
	}

	switch viewerRole {
	case store.RoleAdmin:
		if counterpartID == "" || counterpartID == AdminPool {
			return Outgoing{}, ErrNoCounterpart
		}
		return Outgoing{
			SenderID:       senderID,
			ReceiverID:     lo.ToPtr(counterpartID),
			Body:           body,
			IsAdminMessage: true,
		}, nil
	case store.RoleUser:
		return Outgoing{
			SenderID:       senderID,
			ReceiverID:     nil,
			Body:           body,
			IsAdminMessage: false,
		}, nil
	default:
		return Outgoing{}, ErrUnknownRole
	}
}

// CounterpartOf returns the counterpart a viewer converses with when they did not
// choose one: users always talk to the admin pool, admins must select explicitly.
func CounterpartOf(viewerRole store.RoleName, selected string) string {
	if viewerRole == store.RoleUser {
		return AdminPool
	}
	return selected
}
