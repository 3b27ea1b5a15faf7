// ABOUTME: Wires configuration, storage, change feed, session and chat services for CLI commands
// ABOUTME: Each command opens one app, signs in with a token and closes everything on exit

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/feed"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

// signInTimeout bounds sign-in plus role resolution.
const signInTimeout = 15 * time.Second

type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	store    *store.SQLiteStore
	feed     feed.Feed
	verifier *auth.JWTVerifier
	provider *auth.TokenProvider
	sessions *session.Service
	chat     *conversation.Service
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config %s: %w (run 'coven-inbox init' first)", configPath, err)
	}
	return cfg, configPath, nil
}

func newFeed(cfg config.FeedConfig, logger *slog.Logger) (feed.Feed, error) {
	switch cfg.Backend {
	case config.FeedRedis:
		return feed.NewRedisFeed(cfg.RedisURL, cfg.ChannelPrefix, cfg.BufferSize, logger)
	default:
		return feed.NewBroadcaster(cfg.BufferSize, logger), nil
	}
}

func openApp(ctx context.Context) (*app, error) {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging)

	a := &app{cfg: cfg, configPath: configPath, logger: logger}

	a.store, err = store.NewSQLiteStoreWithLogger(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a.feed, err = newFeed(cfg.Feed, logger)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("connecting feed: %w", err)
	}

	a.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = auth.NewTokenProvider(a.verifier, a.store, logger)

	a.sessions = session.New(a.provider, a.store, logger)
	if err := a.sessions.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.chat = conversation.NewService(a.sessions, a.store, a.feed, logger, conversation.ServiceOptions{
		Aggregator: conversation.AggregatorOptions{
			Concurrency: cfg.Chat.AggregatorConcurrency,
		},
		Synchronizer: conversation.SynchronizerOptions{
			HistoryTimeout:     cfg.Chat.HistoryTimeout,
			ResubscribeBackoff: cfg.Chat.ResubscribeBackoff,
		},
	})

	logger.Debug("app ready",
		"config", configPath,
		"database", cfg.Database.Path,
		"feed", cfg.Feed.Backend)
	return a, nil
}

// signIn starts a session from token and waits for the role to resolve.
func (a *app) signIn(ctx context.Context, token string) (session.Snapshot, error) {
	if _, err := a.provider.SignIn(ctx, token); err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return session.Snapshot{}, fmt.Errorf("session token expired, run 'coven-inbox token' for a new one")
		}
		return session.Snapshot{}, fmt.Errorf("signing in: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, signInTimeout)
	defer cancel()
	return a.sessions.WaitReady(waitCtx)
}

// minRefreshDelay keeps a nearly expired token from spinning the refresh loop.
const minRefreshDelay = 30 * time.Second

// refreshDelay is half the remaining lifetime of the session token.
func (a *app) refreshDelay() time.Duration {
	exp := a.provider.ExpiresAt()
	if exp.IsZero() {
		return tokenTTL / 2
	}
	return max(time.Until(exp)/2, minRefreshDelay)
}

// refreshSession mints a fresh token for the signed-in user and hands it to the
// provider so long-running commands outlive the token they started with.
func (a *app) refreshSession(ctx context.Context) error {
	ident, err := a.provider.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if ident == nil {
		return session.ErrSessionUnavailable
	}
	token, err := a.verifier.Generate(ident.UserID, tokenTTL)
	if err != nil {
		return err
	}
	if _, err := a.provider.Refresh(ctx, token); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	a.logger.Debug("session token refreshed", "user_id", ident.UserID, "expires_at", a.provider.ExpiresAt())
	return nil
}

// displayName returns a printable name for a user id.
func (a *app) displayName(ctx context.Context, cache map[string]string, id string) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := id
	if p, err := a.store.GetProfile(ctx, id); err == nil {
		name = p.DisplayName()
	}
	cache[id] = name
	return name
}

func (a *app) Close() {
	if a.chat != nil {
		a.chat.Close()
	}
	if a.sessions != nil {
		a.sessions.SignOut(context.Background())
		a.sessions.Close()
	}
	if a.feed != nil {
		a.feed.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
