// ABOUTME: Append-only chat message log backed by the chat_messages table
// ABOUTME: Supports per-participant queries ordered by (created_at, id)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// prepareMessage validates msg and fills the id and timestamp the store owns.
// The caller's struct is not modified.
func prepareMessage(msg *Message) (*Message, error) {
	m := *msg
	if strings.TrimSpace(m.Body) == "" {
		return nil, ErrEmptyBody
	}
	if m.IsAdminMessage && m.Receiver() == "" {
		return nil, ErrMissingReceiver
	}
	if m.SenderID == "" {
		return nil, errors.New("message requires a sender")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if m.ReceiverID != nil {
		r := *m.ReceiverID
		m.ReceiverID = &r
	}
	return &m, nil
}

// InsertMessage appends a message and returns the stored row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) (*Message, error) {
	m, err := prepareMessage(msg)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO chat_messages (id, sender_id, receiver_id, message, is_admin_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.SenderID,
		nullString(m.Receiver()),
		m.Body,
		m.IsAdminMessage,
		m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", m.ID, "sender_id", m.SenderID, "receiver_id", m.Receiver())
	return m, nil
}

// QueryMessages returns messages matching filter in (created_at, id) order.
func (s *SQLiteStore) QueryMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	args := []any{filter.Participant, filter.Participant}

	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}

	query := `
		SELECT id, sender_id, receiver_id, message, is_admin_message, created_at
		FROM chat_messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at ` + order + `, id ` + order

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// LatestMessage returns the most recent message the participant sent or received.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) LatestMessage(ctx context.Context, participantID string) (*Message, error) {
	msgs, err := s.QueryMessages(ctx, MessageFilter{
		Participant: participantID,
		Descending:  true,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var receiver sql.NullString
	var createdAt int64

	if err := row.Scan(&m.ID, &m.SenderID, &receiver, &m.Body, &m.IsAdminMessage, &createdAt); err != nil {
		return nil, err
	}
	if receiver.Valid {
		r := receiver.String
		m.ReceiverID = &r
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}
