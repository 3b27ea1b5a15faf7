// ABOUTME: Store interfaces and data types for coven-inbox persistence
// ABOUTME: Defines Profile, Role, Message and the filter used to query conversations

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateProfile is returned when a profile id or email is already taken
var ErrDuplicateProfile = errors.New("profile already exists")

// ErrEmptyBody is returned when a message body is blank
var ErrEmptyBody = errors.New("message body is empty")

// ErrMissingReceiver is returned when an admin message does not name a receiver
var ErrMissingReceiver = errors.New("admin message requires a receiver")

// Profile is the identity record of a signed-up person. Roles live in a separate table.
type Profile struct {
	ID        string
	Email     string
	FullName  string // optional
	CreatedAt time.Time
}

// DisplayName returns the full name, or the local part of the email when no name is set.
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

// Message is a single direct message. Messages are immutable once stored.
//
// ReceiverID is nil only for user-authored messages addressed to the admin pool.
// Every admin-authored message (IsAdminMessage) names a concrete receiver.
type Message struct {
	ID             string
	SenderID       string
	ReceiverID     *string
	Body           string
	IsAdminMessage bool
	CreatedAt      time.Time
}

// Receiver returns the receiver id, or "" for admin-pool messages.
func (m *Message) Receiver() string {
	if m.ReceiverID == nil {
		return ""
	}
	return *m.ReceiverID
}

// Involves reports whether id is the sender or the receiver of the message.
func (m *Message) Involves(id string) bool {
	return m.SenderID == id || (m.ReceiverID != nil && *m.ReceiverID == id)
}

// Less orders messages by creation time, then by id so equal timestamps sort deterministically.
func (m *Message) Less(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MessageFilter selects the messages a participant sent or received.
type MessageFilter struct {
	// Participant matches messages where the id is sender or receiver. Required.
	Participant string
	// Descending reverses the (created_at, id) ordering.
	Descending bool
	// Limit caps the result size; zero means no limit.
	Limit int
}

func (f MessageFilter) validate() error {
	if f.Participant == "" {
		return errors.New("message filter requires a participant")
	}
	return nil
}

// ProfileStore manages identity records.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)
}

// RoleStore is the single-row-per-user role table.
type RoleStore interface {
	SetRole(ctx context.Context, userID string, role RoleName) error
	GetRole(ctx context.Context, userID string) (RoleName, error)
	ListRoles(ctx context.Context, role RoleName) ([]string, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *Message) (*Message, error)
	QueryMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)
	LatestMessage(ctx context.Context, participantID string) (*Message, error)
}

// Store composes every persistence interface used by coven-inbox.
type Store interface {
	ProfileStore
	RoleStore
	MessageStore

	// Close releases any resources held by the store
	Close() error
}
