// ABOUTME: MessageStore decorator that announces every confirmed append on a Feed
// ABOUTME: Persist first, then publish; the durable row is the source of truth

package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-inbox/internal/store"
)

// PublishingStore wraps a MessageStore so each successful InsertMessage emits an
// insert event. Reads pass through untouched.
type PublishingStore struct {
	store.MessageStore
	feed   Feed
	logger *slog.Logger
}

// Ensure PublishingStore implements store.MessageStore.
var _ store.MessageStore = (*PublishingStore)(nil)

// NewPublishingStore creates the decorator. Pass nil logger for default.
func NewPublishingStore(messages store.MessageStore, f Feed, logger *slog.Logger) *PublishingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingStore{
		MessageStore: messages,
		feed:         f,
		logger:       logger.With("component", "publishing_store"),
	}
}

// InsertMessage appends msg and publishes the stored row. A publish failure is
// logged but not returned: the append is already durable and subscribers
// reconcile against the store when they reconnect.
func (p *PublishingStore) InsertMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	stored, err := p.MessageStore.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	event := Event{Op: OpInsert, Table: TableMessages, Message: stored}

	// Publish with a separate timeout so a cancelled request still notifies peers.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.feed.Publish(pubCtx, event); err != nil {
		p.logger.Warn("failed to publish insert",
			"message_id", stored.ID,
			"error", err)
	}

	// Subscribers share the published pointer; hand the caller its own copy.
	out := *stored
	return &out, nil
}
