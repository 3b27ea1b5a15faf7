// ABOUTME: Token-backed identity provider feeding the session service
// ABOUTME: Verifies a session JWT, loads the profile and notifies registered listeners

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

// TokenProvider is a session.Provider whose sessions start from bearer tokens.
type TokenProvider struct {
	verifier TokenVerifier
	profiles store.ProfileStore
	logger   *slog.Logger

	mu        sync.Mutex
	current   *session.Identity
	expiresAt time.Time
	listeners map[int]func(session.Transition)
	next      int
}

// Ensure TokenProvider implements session.Provider.
var _ session.Provider = (*TokenProvider)(nil)

// NewTokenProvider creates a provider. Pass nil logger for default.
func NewTokenProvider(verifier TokenVerifier, profiles store.ProfileStore, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{
		verifier:  verifier,
		profiles:  profiles,
		logger:    logger.With("component", "token_provider"),
		listeners: make(map[int]func(session.Transition)),
	}
}

// SignIn verifies token, loads the profile it names and starts a session.
func (p *TokenProvider) SignIn(ctx context.Context, token string) (*session.Identity, error) {
	return p.start(ctx, token, session.SignedIn)
}

// Refresh replaces the session token. Listeners see a TokenRefreshed transition.
func (p *TokenProvider) Refresh(ctx context.Context, token string) (*session.Identity, error) {
	return p.start(ctx, token, session.TokenRefreshed)
}

func (p *TokenProvider) start(ctx context.Context, token string, kind session.TransitionKind) (*session.Identity, error) {
	claims, err := p.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	profile, err := p.profiles.GetProfile(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", claims.UserID, err)
	}

	ident := &session.Identity{
		UserID:      profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName(),
	}

	p.mu.Lock()
	p.current = ident
	p.expiresAt = claims.ExpiresAt
	p.mu.Unlock()

	p.logger.Debug("session token accepted", "user_id", ident.UserID, "kind", kind)
	p.notify(session.Transition{Kind: kind, Identity: ident})

	c := *ident
	return &c, nil
}

// CurrentSession returns the signed-in identity or nil.
func (p *TokenProvider) CurrentSession(ctx context.Context) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	c := *p.current
	return &c, nil
}

// ExpiresAt returns when the current session token expires, or the zero time
// when nobody is signed in.
func (p *TokenProvider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiresAt
}

// OnSessionChange registers fn. Listeners are called synchronously without the
// provider lock held.
func (p *TokenProvider) OnSessionChange(fn func(session.Transition)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.listeners[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// SignOut ends the current session. Signing out twice is a no-op.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	was := p.current
	p.current = nil
	p.expiresAt = time.Time{}
	p.mu.Unlock()

	if was == nil {
		return nil
	}
	p.logger.Debug("signed out", "user_id", was.UserID)
	p.notify(session.Transition{Kind: session.SignedOut})
	return nil
}

func (p *TokenProvider) notify(t session.Transition) {
	p.mu.Lock()
	fns := make([]func(session.Transition), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
