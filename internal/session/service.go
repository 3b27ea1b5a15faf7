// ABOUTME: Session service holding the current identity and its asynchronously resolved role
// ABOUTME: Role lookups run on a resolver goroutine, never inside the provider callback

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/store"
)

// DefaultLookupTimeout bounds a single role lookup.
const DefaultLookupTimeout = 10 * time.Second

// Options tunes a Service.
type Options struct {
	LookupTimeout time.Duration
}

// resolveTask asks the resolver to look up the role of userID for generation.
type resolveTask struct {
	generation uint64
	userID     string
}

// note is one snapshot and the observers registered when it was taken.
type note struct {
	snap      Snapshot
	observers []func(Snapshot)
}

// Service is the process-wide session store. Construct one per application and
// pass it to the components that need the current identity.
type Service struct {
	provider Provider
	roles    RoleLookup
	opts     Options
	logger   *slog.Logger

	mu         sync.RWMutex
	state      State
	identity   *Identity
	role       Role
	generation uint64
	changed    chan struct{} // closed and replaced on every state change

	// pending holds the latest resolve request; older ones are superseded.
	pending *resolveTask
	wake    chan struct{}

	// notes queues snapshots for the notifier goroutine in transition order.
	obsMu      sync.Mutex
	observers  map[int]func(Snapshot)
	nextObs    int
	notes      []note
	notifyWake chan struct{}

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	closeOnce   sync.Once
}

// New creates a session service. Pass nil logger for default.
func New(provider Provider, roles RoleLookup, logger *slog.Logger, opts ...Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = DefaultLookupTimeout
	}
	return &Service{
		provider:   provider,
		roles:      roles,
		opts:       o,
		logger:     logger.With("component", "session"),
		changed:    make(chan struct{}),
		wake:       make(chan struct{}, 1),
		observers:  make(map[int]func(Snapshot)),
		notifyWake: make(chan struct{}, 1),
	}
}

// Start registers with the provider, starts the resolver, then loads any session
// that already exists. Calling Start more than once has no effect.
func (s *Service) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel

		s.wg.Add(2)
		go s.resolveLoop(runCtx)
		go s.notifyLoop(runCtx)

		s.mu.Lock()
		s.state = StateAuthenticating
		startGen := s.generation
		s.broadcastLocked()
		s.mu.Unlock()

		s.unsubscribe = s.provider.OnSessionChange(s.handleTransition)

		var ident *Identity
		ident, err = s.provider.CurrentSession(ctx)
		if err != nil {
			err = fmt.Errorf("load current session: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != startGen {
			// A provider notification arrived first and is newer.
			return
		}
		if ident == nil {
			s.setUnauthenticatedLocked()
			return
		}
		s.setIdentityLocked(ident)
	})
	return err
}

// handleTransition is the provider callback. It updates the identity synchronously
// and defers the role lookup to the resolver goroutine.
func (s *Service) handleTransition(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t.Kind {
	case SignedOut:
		if s.identity == nil && s.state == StateUnauthenticated {
			return
		}
		s.setUnauthenticatedLocked()
	case SignedIn, TokenRefreshed:
		if t.Identity == nil {
			s.logger.Warn("ignoring transition without identity", "kind", t.Kind)
			return
		}
		if t.Kind == TokenRefreshed && s.identity != nil && s.identity.UserID == t.Identity.UserID {
			// Same user, fresh token: not a transition.
			return
		}
		s.setIdentityLocked(t.Identity)
	default:
		s.logger.Warn("ignoring unknown transition", "kind", t.Kind)
	}
}

// setIdentityLocked must be called with mu held.
func (s *Service) setIdentityLocked(ident *Identity) {
	c := *ident
	s.generation++
	s.identity = &c
	s.role = RoleUnknown
	s.state = StateRoleResolving

	s.pending = &resolveTask{generation: s.generation, userID: c.UserID}
	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Info("session started", "user_id", c.UserID, "generation", s.generation)
	s.broadcastLocked()
}

// setUnauthenticatedLocked must be called with mu held.
func (s *Service) setUnauthenticatedLocked() {
	s.generation++
	s.identity = nil
	s.role = RoleUnknown
	s.state = StateUnauthenticated
	s.pending = nil

	s.logger.Info("session ended", "generation", s.generation)
	s.broadcastLocked()
}

// broadcastLocked wakes WaitReady callers and queues a snapshot for observers.
// Must be called with mu held.
func (s *Service) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})

	n := note{snap: s.snapshotLocked()}
	s.obsMu.Lock()
	for _, fn := range s.observers {
		n.observers = append(n.observers, fn)
	}
	s.notes = append(s.notes, n)
	s.obsMu.Unlock()
	select {
	case s.notifyWake <- struct{}{}:
	default:
	}
}

func (s *Service) resolveLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		task := s.pending
		s.pending = nil
		s.mu.Unlock()
		if task == nil {
			continue
		}

		role := s.lookup(ctx, task)
		s.complete(task.generation, role)
	}
}

// lookup fetches the role, defaulting to RoleUser on any failure.
func (s *Service) lookup(ctx context.Context, task *resolveTask) Role {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.LookupTimeout)
	defer cancel()

	role, err := s.roles.GetRole(lookupCtx, task.userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return RoleUser
	case err != nil:
		s.logger.Warn("defaulting to user role",
			"user_id", task.userID,
			"error", fmt.Errorf("%w: %w", ErrRoleResolutionFailed, err))
		return RoleUser
	case !role.Valid():
		s.logger.Warn("defaulting to user role", "user_id", task.userID, "role", role)
		return RoleUser
	}
	return role
}

// complete marks generation ready. Stale or already completed generations are discarded.
func (s *Service) complete(generation uint64, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation || s.state != StateRoleResolving {
		s.logger.Debug("discarding stale role", "generation", generation, "current", s.generation)
		return
	}
	s.role = role
	s.state = StateReady
	s.logger.Info("role resolved", "user_id", s.identity.UserID, "role", role)
	s.broadcastLocked()
}

func (s *Service) notifyLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notifyWake:
		}

		s.obsMu.Lock()
		notes := s.notes
		s.notes = nil
		s.obsMu.Unlock()

		for _, n := range notes {
			for _, fn := range n.observers {
				fn(n.snap)
			}
		}
	}
}

// Subscribe registers fn to receive a snapshot after every session transition and
// once more when the role becomes known. Observers run on a dedicated goroutine in
// transition order and may call back into the Service.
func (s *Service) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Role:       s.role,
		Generation: s.generation,
	}
	if s.identity != nil {
		c := *s.identity
		snap.Identity = &c
	}
	return snap
}

// Snapshot returns the current session state.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// CurrentIdentity returns a copy of the signed-in identity.
func (s *Service) CurrentIdentity() (*Identity, bool) {
	snap := s.Snapshot()
	return snap.Identity, snap.Identity != nil
}

// CurrentRole returns the resolved role, or RoleUnknown while resolving.
func (s *Service) CurrentRole() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// State returns the lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// WaitReady blocks until the role is resolved. It returns ErrSessionUnavailable
// as soon as the session is unauthenticated.
func (s *Service) WaitReady(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.RLock()
		snap := s.snapshotLocked()
		changed := s.changed
		s.mu.RUnlock()

		switch snap.State {
		case StateReady:
			return snap, nil
		case StateUnauthenticated:
			return snap, ErrSessionUnavailable
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// SignOut asks the provider to end the session. The state changes when the
// provider reports the transition.
func (s *Service) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Close unregisters from the provider and stops the background goroutines.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
	return nil
}
