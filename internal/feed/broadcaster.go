// ABOUTME: In-memory fan-out change feed for single-process deployments and tests
// ABOUTME: Publishes inserted rows to every matching subscriber; slow subscribers are dropped

package feed

import (
	"context"
	"log/slog"
	"sync"
)

// Broadcaster provides in-memory pub/sub for row changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription // subID -> subscription
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// Ensure Broadcaster implements Feed.
var _ Feed = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Pass nil logger for default and a
// non-positive bufferSize for DefaultBufferSize.
func NewBroadcaster(bufferSize int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. The subscription is automatically cleaned up
// when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	sub := newSubscription(filter, b.bufferSize)
	sub.cancel = func() { b.remove(sub.id, nil) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", sub.id, "table", filter.Table)

	// Auto-cleanup on context cancellation
	go func() {
		select {
		case <-ctx.Done():
			b.remove(sub.id, nil)
		case <-sub.Done():
		}
	}()

	return sub, nil
}

// Publish sends an event to all matching subscribers without blocking.
// A subscriber whose buffer is full is dropped with ErrSubscriptionDropped.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	var overflowed []string

	// Sends happen under the read lock so they cannot race with finish, which
	// only runs under the write lock.
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	for id, sub := range b.subscribers {
		if !sub.deliver(event) {
			overflowed = append(overflowed, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range overflowed {
		b.logger.Warn("dropping slow subscriber", "sub_id", id)
		b.DropSubscription(id)
	}
	return nil
}

// DropSubscription ends a subscription with ErrSubscriptionDropped. The holder
// must reconcile against the store. Publish uses it for subscribers that fall behind.
func (b *Broadcaster) DropSubscription(subID string) {
	b.remove(subID, ErrSubscriptionDropped)
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) remove(subID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	sub.finish(err)

	b.logger.Debug("subscriber removed", "sub_id", subID, "error", err)
}

// Close shuts down the broadcaster and ends all subscriptions cleanly.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		sub.finish(nil)
		delete(b.subscribers, id)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
	return nil
}
