// ABOUTME: Message stream synchronizer merging history with the live change feed
// ABOUTME: One actor goroutine per view owns the ordered, de-duplicated message sequence

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/feed"
	"github.com/2389/coven-inbox/internal/routing"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

const (
	// DefaultHistoryTimeout bounds one history fetch.
	DefaultHistoryTimeout = 10 * time.Second
	// DefaultResubscribeBackoff is the first delay before resubscribing after a drop.
	DefaultResubscribeBackoff = 500 * time.Millisecond

	maxResubscribeBackoff = 30 * time.Second
	followBuffer          = 256
)

var (
	// ErrHistoryFetchFailed is reported by View.Err when history could not be loaded.
	// The view stays open and keeps receiving live messages.
	ErrHistoryFetchFailed = errors.New("history fetch failed")
	// ErrSendFailed wraps store failures when appending a message.
	ErrSendFailed = errors.New("send failed")
	// ErrFollowerLagged ends a Follower that did not keep up. Call Follow again
	// for a fresh snapshot.
	ErrFollowerLagged = errors.New("follower lagged")
)

// HistoryStore is what the synchronizer reads.
type HistoryStore interface {
	QueryMessages(ctx context.Context, filter store.MessageFilter) ([]*store.Message, error)
}

// SynchronizerOptions tunes a Synchronizer.
type SynchronizerOptions struct {
	HistoryTimeout     time.Duration
	ResubscribeBackoff time.Duration
}

// Synchronizer opens conversation views.
type Synchronizer struct {
	store  HistoryStore
	feed   feed.Feed
	opts   SynchronizerOptions
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer. Pass nil logger for default.
func NewSynchronizer(st HistoryStore, f feed.Feed, logger *slog.Logger, opts SynchronizerOptions) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = DefaultHistoryTimeout
	}
	if opts.ResubscribeBackoff <= 0 {
		opts.ResubscribeBackoff = DefaultResubscribeBackoff
	}
	return &Synchronizer{
		store:  st,
		feed:   f,
		opts:   opts,
		logger: logger.With("component", "synchronizer"),
	}
}

// historyFilter scopes the history query the same way routing.Matches scopes live events.
func historyFilter(viewer session.Identity, role session.Role, counterpartID string) (store.MessageFilter, error) {
	switch role {
	case session.RoleAdmin:
		if counterpartID == "" || counterpartID == routing.AdminPool {
			return store.MessageFilter{}, routing.ErrNoCounterpart
		}
		return store.MessageFilter{Participant: counterpartID}, nil
	case session.RoleUser:
		return store.MessageFilter{Participant: viewer.UserID}, nil
	default:
		return store.MessageFilter{}, routing.ErrUnknownRole
	}
}

// Open subscribes to the feed, then loads history for the conversation between
// viewer and counterpartID. The view lives until Close or until ctx is cancelled.
func (s *Synchronizer) Open(ctx context.Context, viewer session.Identity, role session.Role, counterpartID string) (*View, error) {
	filter, err := historyFilter(viewer, role, counterpartID)
	if err != nil {
		return nil, err
	}

	viewCtx, cancel := context.WithCancel(ctx)
	sub, err := s.feed.Subscribe(viewCtx, feed.MessageInserts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to message feed: %w", err)
	}

	v := &View{
		syn:           s,
		viewer:        viewer,
		role:          role,
		counterpartID: counterpartID,
		filter:        filter,
		ids:           make(map[string]struct{}),
		followers:     make(map[*Follower]struct{}),
		ready:         make(chan struct{}),
		reload:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		cancel:        cancel,
		logger: s.logger.With(
			"viewer", viewer.UserID,
			"counterpart", counterpartID),
	}

	go v.run(viewCtx, sub)
	return v, nil
}

// View is one open conversation. Its message sequence is ordered by
// (CreatedAt, ID) and holds each id once.
type View struct {
	syn           *Synchronizer
	viewer        session.Identity
	role          session.Role
	counterpartID string
	filter        store.MessageFilter
	logger        *slog.Logger

	mu        sync.RWMutex
	msgs      []*store.Message
	ids       map[string]struct{}
	err       error
	followers map[*Follower]struct{}
	closed    bool

	// loaded is owned by the actor.
	loaded bool

	ready     chan struct{}
	readyOnce sync.Once
	reload    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type historyResult struct {
	msgs []*store.Message
	err  error
}

// CounterpartID returns the counterpart this view was opened for.
func (v *View) CounterpartID() string { return v.counterpartID }

// Messages returns a copy of the current sequence.
func (v *View) Messages() []*store.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.copyLocked()
}

func (v *View) copyLocked() []*store.Message {
	out := make([]*store.Message, len(v.msgs))
	for i, m := range v.msgs {
		c := *m
		out[i] = &c
	}
	return out
}

// Ready is closed once the first history fetch has finished, successfully or not.
func (v *View) Ready() <-chan struct{} { return v.ready }

// Update is one message merged into a view. Index is the message's position in
// the sequence right after the merge, so applying updates in order with
// slices.Insert reproduces Messages. An Index short of the end means a reconciled
// message landed between ones the consumer already has.
type Update struct {
	Message *store.Message
	Index   int
}

// Follower streams the merges that happen after its snapshot was taken.
type Follower struct {
	view    *View
	updates chan Update
	once    sync.Once
	err     error // guarded by view.mu
}

// Follow returns the current sequence and a Follower that receives every later
// merge, with nothing missed or repeated between the two.
func (v *View) Follow() ([]*store.Message, *Follower) {
	f := &Follower{view: v, updates: make(chan Update, followBuffer)}

	v.mu.Lock()
	defer v.mu.Unlock()
	history := v.copyLocked()
	if v.closed {
		f.end(nil)
	} else {
		v.followers[f] = struct{}{}
	}
	return history, f
}

// Updates yields merges in order. It is closed when the view closes, when the
// follower is closed, or when it falls behind (Err reports ErrFollowerLagged).
func (f *Follower) Updates() <-chan Update { return f.updates }

// Err returns ErrFollowerLagged after a lag, nil otherwise.
func (f *Follower) Err() error {
	f.view.mu.RLock()
	defer f.view.mu.RUnlock()
	return f.err
}

// Close stops the follower. Safe to call multiple times.
func (f *Follower) Close() {
	f.view.mu.Lock()
	defer f.view.mu.Unlock()
	delete(f.view.followers, f)
	f.end(nil)
}

// end closes the stream once. Callers hold view.mu.
func (f *Follower) end(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.updates)
	})
}

// Done is closed when the view has shut down.
func (v *View) Done() <-chan struct{} { return v.done }

// Err returns the last history error (wrapping ErrHistoryFetchFailed), or nil
// once a later fetch succeeds.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Reload fetches history again and merges it. Use it to retry after Err.
func (v *View) Reload() {
	select {
	case v.reload <- struct{}{}:
	default:
	}
}

// Close cancels the live subscription and waits for the actor to stop.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		<-v.done
	})
}

func (v *View) run(ctx context.Context, sub *feed.Subscription) {
	defer close(v.done)
	defer v.endFollowers()
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	historyCh := make(chan historyResult, 1)
	fetching, again := false, false
	startFetch := func() {
		if fetching {
			again = true
			return
		}
		fetching = true
		go func() { historyCh <- v.fetch(ctx) }()
	}

	backoff := v.syn.opts.ResubscribeBackoff
	events := sub.Events()
	var retry <-chan time.Time

	startFetch()
	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-events:
			if !ok {
				err := sub.Err()
				sub, events = nil, nil
				if ctx.Err() != nil {
					return
				}
				v.logger.Warn("message feed ended, resubscribing", "error", err, "backoff", backoff)
				retry = time.After(backoff)
				continue
			}
			if routing.Matches(e.Message, v.viewer.UserID, v.counterpartID, v.role) {
				v.merge([]*store.Message{e.Message})
			}

		case <-retry:
			retry = nil
			next, err := v.syn.feed.Subscribe(ctx, feed.MessageInserts)
			if errors.Is(err, feed.ErrClosed) {
				v.logger.Error("message feed closed, live updates stopped")
				continue
			}
			if err != nil {
				backoff = min(backoff*2, maxResubscribeBackoff)
				v.logger.Warn("resubscribe failed", "error", err, "backoff", backoff)
				retry = time.After(backoff)
				continue
			}
			sub, events = next, next.Events()
			backoff = v.syn.opts.ResubscribeBackoff
			v.logger.Info("resubscribed, reconciling history")
			startFetch()

		case res := <-historyCh:
			fetching = false
			v.applyHistory(res)
			if again {
				again = false
				startFetch()
			}

		case <-v.reload:
			startFetch()
		}
	}
}

// fetch loads the full conversation history. It returns all rows or an error,
// never a partial result.
func (v *View) fetch(ctx context.Context) historyResult {
	fetchCtx, cancel := context.WithTimeout(ctx, v.syn.opts.HistoryTimeout)
	defer cancel()

	msgs, err := v.syn.store.QueryMessages(fetchCtx, v.filter)
	if err != nil {
		return historyResult{err: fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)}
	}
	return historyResult{msgs: msgs}
}

func (v *View) applyHistory(res historyResult) {
	v.mu.Lock()
	v.err = res.err
	v.mu.Unlock()

	if res.err != nil {
		v.logger.Warn("history unavailable", "error", res.err)
	} else {
		v.merge(res.msgs)
	}

	if !v.loaded {
		v.loaded = true
		v.readyOnce.Do(func() { close(v.ready) })
	}
}

// merge inserts unseen messages at their sorted position and streams each one
// to the followers. Only the actor calls it.
func (v *View) merge(batch []*store.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, m := range batch {
		if m == nil {
			continue
		}
		if _, seen := v.ids[m.ID]; seen {
			continue
		}
		c := *m
		idx, _ := slices.BinarySearchFunc(v.msgs, &c, compareMessages)
		v.msgs = slices.Insert(v.msgs, idx, &c)
		v.ids[c.ID] = struct{}{}

		for f := range v.followers {
			out := c
			select {
			case f.updates <- Update{Message: &out, Index: idx}:
			default:
				v.logger.Warn("follower lagged, ending its stream", "message_id", c.ID)
				delete(v.followers, f)
				f.end(ErrFollowerLagged)
			}
		}
	}
}

func (v *View) endFollowers() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for f := range v.followers {
		delete(v.followers, f)
		f.end(nil)
	}
}

func compareMessages(a, b *store.Message) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
