// ABOUTME: Chat coordinator tying the session, aggregator and synchronizer together
// ABOUTME: Owns the single open view, sends through the routing policy and watches the list

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/feed"
	"github.com/2389/coven-inbox/internal/routing"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

// Sessions is the part of session.Service the coordinator depends on.
type Sessions interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// ServiceOptions tunes a Service.
type ServiceOptions struct {
	Aggregator   AggregatorOptions
	Synchronizer SynchronizerOptions
}

// Service is the chat coordinator for one running application.
type Service struct {
	sessions Sessions
	messages store.MessageStore
	feed     feed.Feed
	agg      *Aggregator
	syn      *Synchronizer
	backoff  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes view switches so two views never overlap.
	mu         sync.Mutex
	current    *View
	currentGen uint64

	conversations  chan []Conversation
	sessionChanged chan struct{}
	unsubscribe    func()
	closeOnce      sync.Once
}

// NewService creates the coordinator. Messages sent through it are appended to st
// and announced on f. Pass nil logger for default.
func NewService(sessions Sessions, st store.Store, f feed.Feed, logger *slog.Logger, opts ServiceOptions) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		sessions:       sessions,
		messages:       feed.NewPublishingStore(st, f, logger),
		feed:           f,
		agg:            NewAggregator(st, logger, opts.Aggregator),
		syn:            NewSynchronizer(st, f, logger, opts.Synchronizer),
		backoff:        opts.Synchronizer.ResubscribeBackoff,
		logger:         logger.With("component", "chat"),
		ctx:            ctx,
		cancel:         cancel,
		conversations:  make(chan []Conversation, 1),
		sessionChanged: make(chan struct{}, 1),
	}
	if s.backoff <= 0 {
		s.backoff = DefaultResubscribeBackoff
	}
	s.unsubscribe = sessions.Subscribe(s.onSession)
	return s
}

// onSession drops the open view when the session it was opened for is gone.
func (s *Service) onSession(snap session.Snapshot) {
	s.mu.Lock()
	if s.current != nil && (snap.State != session.StateReady || snap.Generation != s.currentGen) {
		s.logger.Info("session changed, closing conversation view", "state", snap.State)
		s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()

	select {
	case s.sessionChanged <- struct{}{}:
	default:
	}
}

// ready returns the current snapshot if the session is usable.
func (s *Service) ready() (session.Snapshot, error) {
	snap := s.sessions.Snapshot()
	if snap.Identity == nil {
		return snap, session.ErrSessionUnavailable
	}
	if snap.State != session.StateReady {
		return snap, fmt.Errorf("%w: %s", session.ErrSessionUnavailable, snap.State)
	}
	return snap, nil
}

// Select closes the current view, then opens one for counterpartID. Users always
// converse with the admin pool and may pass an empty id.
func (s *Service) Select(ctx context.Context, counterpartID string) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	counterpart := routing.CounterpartOf(snap.Role, counterpartID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Close()
		s.current = nil
	}

	view, err := s.syn.Open(s.ctx, *snap.Identity, snap.Role, counterpart)
	if err != nil {
		return nil, err
	}

	// A transition that ran before mu was taken saw no view to close.
	if now := s.sessions.Snapshot(); now.State != session.StateReady || now.Generation != snap.Generation {
		view.Close()
		s.logger.Info("session changed while opening conversation", "state", now.State)
		return nil, session.ErrSessionUnavailable
	}
	s.current = view
	s.currentGen = snap.Generation

	s.logger.Debug("conversation selected", "viewer", snap.Identity.UserID, "counterpart", counterpart)
	return view, nil
}

// Current returns the open view, or nil.
func (s *Service) Current() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Conversations returns the conversation list for the signed-in identity.
func (s *Service) Conversations(ctx context.Context) ([]Conversation, error) {
	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.agg.ListConversations(ctx, *snap.Identity, snap.Role)
}

// Send appends body to the selected conversation. The view is not updated
// locally; the appended row arrives through the feed like any other.
func (s *Service) Send(ctx context.Context, body string) (*store.Message, error) {
	var counterpart string
	if v := s.Current(); v != nil {
		counterpart = v.CounterpartID()
	}
	return s.SendTo(ctx, counterpart, body)
}

// SendTo appends body addressed to counterpartID without changing the selection.
func (s *Service) SendTo(ctx context.Context, counterpartID, body string) (*store.Message, error) {
	snap, err := s.ready()
	if err != nil {
		return nil, err
	}

	out, err := routing.Address(body, snap.Identity.UserID, snap.Role, counterpartID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.InsertMessage(ctx, out.Message())
	if err != nil {
		s.logger.Warn("send failed", "sender", snap.Identity.UserID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return msg, nil
}

// ConversationUpdates yields the latest conversation list while Watch runs.
// Only the newest list is kept if the reader falls behind.
func (s *Service) ConversationUpdates() <-chan []Conversation {
	return s.conversations
}

// Watch recomputes the conversation list on every relevant insert and session
// change until ctx is cancelled or the service closes.
func (s *Service) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	backoff := s.backoff
	var (
		sub    *feed.Subscription
		events <-chan feed.Event
		retry  <-chan time.Time
	)
	subscribe := func() {
		next, err := s.feed.Subscribe(ctx, feed.MessageInserts)
		if err != nil {
			if ctx.Err() == nil {
				backoff = min(backoff*2, maxResubscribeBackoff)
				s.logger.Warn("watch subscribe failed", "error", err, "backoff", backoff)
				retry = time.After(backoff)
			}
			return
		}
		sub, events = next, next.Events()
		backoff = s.backoff
	}
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	// The initial refresh below already reflects the current session.
	select {
	case <-s.sessionChanged:
	default:
	}

	subscribe()
	s.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.sessionChanged:
			s.refresh(ctx)

		case e, ok := <-events:
			if !ok {
				sub, events = nil, nil
				if ctx.Err() != nil {
					return nil
				}
				retry = time.After(backoff)
				continue
			}
			if s.visible(e.Message) {
				s.refresh(ctx)
			}

		case <-retry:
			retry = nil
			subscribe()
			// Inserts during the gap were missed; recompute from the store.
			s.refresh(ctx)
		}
	}
}

// visible reports whether msg can change the signed-in identity's list.
func (s *Service) visible(msg *store.Message) bool {
	snap, err := s.ready()
	if err != nil || msg == nil {
		return false
	}
	if snap.Role == session.RoleAdmin {
		return true
	}
	return msg.Involves(snap.Identity.UserID)
}

func (s *Service) refresh(ctx context.Context) {
	list, err := s.Conversations(ctx)
	switch {
	case errors.Is(err, session.ErrSessionUnavailable):
		list = []Conversation{}
	case err != nil:
		if ctx.Err() == nil {
			s.logger.Warn("conversation refresh failed", "error", err)
		}
		return
	}

	// Keep only the newest list.
	select {
	case <-s.conversations:
	default:
	}
	select {
	case s.conversations <- list:
	default:
	}
}

// Close closes the open view and stops watching the session.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.cancel()

		s.mu.Lock()
		if s.current != nil {
			s.current.Close()
			s.current = nil
		}
		s.mu.Unlock()
	})
	return nil
}
