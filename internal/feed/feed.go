// ABOUTME: Change feed contract for row-insert notifications on the message log
// ABOUTME: Defines Event, Filter, Subscription and the Feed interface shared by backends

// Package feed delivers insert notifications from the durable message store
// to live conversation views.
//
// A Subscription either ends cleanly (Close or context cancellation, Err
// returns nil) or is dropped (Err returns ErrSubscriptionDropped). A dropped
// subscriber may have missed events and must reconcile against the store.
// Events are never silently discarded for a live subscription.
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/store"
)

const (
	// DefaultBufferSize is the channel buffer for each subscriber.
	DefaultBufferSize = 64

	// TableMessages is the table name carried by message insert events.
	TableMessages = "chat_messages"
)

var (
	// ErrSubscriptionDropped ends a subscription that lost events (slow consumer
	// or broken transport).
	ErrSubscriptionDropped = errors.New("subscription dropped")
	// ErrClosed is returned when subscribing to or publishing on a closed feed.
	ErrClosed = errors.New("feed closed")
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
)

// Event is one row change. Message is shared between subscribers and must not be mutated.
type Event struct {
	Op      Op
	Table   string
	Message *store.Message
}

// Filter selects events. Empty fields match anything.
type Filter struct {
	Table string
	Op    Op
}

// MessageInserts is the filter used by conversation views.
var MessageInserts = Filter{Table: TableMessages, Op: OpInsert}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if f.Op != "" && f.Op != e.Op {
		return false
	}
	return true
}

// Feed is a push-based stream of row changes.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscription is a live registration on a Feed.
type Subscription struct {
	id      string
	filter  Filter
	events  chan Event
	dropped atomic.Bool

	once   sync.Once
	mu     sync.Mutex
	err    error
	done   chan struct{}
	cancel func() // owner-provided teardown, calls finish(nil)
}

func newSubscription(filter Filter, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Subscription{
		id:     uuid.New().String(),
		filter: filter,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// ID identifies the subscription within its feed.
func (s *Subscription) ID() string { return s.id }

// Events yields matching events. The channel is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns ErrSubscriptionDropped if the subscription was dropped, nil otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		return
	}
	s.finish(nil)
}

// deliver performs a non-blocking send. It returns false when the buffer is full,
// in which case the subscription is marked dropped and receives nothing more.
// Callers must guarantee deliver never races with finish.
func (s *Subscription) deliver(e Event) bool {
	if s.dropped.Load() || !s.filter.Match(e) {
		return true
	}
	select {
	case s.events <- e:
		return true
	default:
		s.dropped.Store(true)
		return false
	}
}

// finish closes the subscription exactly once.
func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
		close(s.done)
	})
}
