// ABOUTME: Conversation aggregator building the role-scoped list of counterparts
// ABOUTME: One bounded-concurrency latest-message lookup per counterpart, newest first

package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-inbox/internal/routing"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

const (
	// DefaultConcurrency bounds parallel latest-message lookups.
	DefaultConcurrency = 4

	// Placeholder is the body shown for a counterpart with no messages.
	Placeholder = "No messages yet"

	// AdminPoolDisplayName labels the single entry users see.
	AdminPoolDisplayName = "Admin"
)

// Conversation is one row of the conversation list. It is derived, never stored.
type Conversation struct {
	CounterpartID          string
	CounterpartDisplayName string
	LastMessageBody        string
	LastMessageAt          time.Time
	// HasMessages is false for the "no messages yet" placeholder entry.
	HasMessages bool
}

// AggregatorStore is what the aggregator reads.
type AggregatorStore interface {
	ListProfiles(ctx context.Context) ([]*store.Profile, error)
	ListRoles(ctx context.Context, role store.RoleName) ([]string, error)
	LatestMessage(ctx context.Context, participantID string) (*store.Message, error)
}

// AggregatorOptions tunes an Aggregator.
type AggregatorOptions struct {
	Concurrency int
	// Now stamps placeholder entries. Defaults to time.Now.
	Now func() time.Time
}

// Aggregator projects the message log into a conversation list.
type Aggregator struct {
	store       AggregatorStore
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewAggregator creates an aggregator. Pass nil logger for default.
func NewAggregator(st AggregatorStore, logger *slog.Logger, opts AggregatorOptions) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		store:       st,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		logger:      logger.With("component", "aggregator"),
	}
}

// ListConversations returns the viewer's conversations, most recent first.
// Admins see every non-admin profile; users see the admin pool only.
func (a *Aggregator) ListConversations(ctx context.Context, viewer session.Identity, role session.Role) ([]Conversation, error) {
	switch role {
	case session.RoleAdmin:
		return a.listForAdmin(ctx, viewer)
	case session.RoleUser:
		return a.listForUser(ctx, viewer)
	default:
		return nil, routing.ErrUnknownRole
	}
}

func (a *Aggregator) listForUser(ctx context.Context, viewer session.Identity) ([]Conversation, error) {
	c, err := a.entry(ctx, a.now(), viewer.UserID, routing.AdminPool, AdminPoolDisplayName)
	if err != nil {
		return nil, err
	}
	return []Conversation{c}, nil
}

func (a *Aggregator) listForAdmin(ctx context.Context, viewer session.Identity) ([]Conversation, error) {
	profiles, err := a.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	admins, err := a.store.ListRoles(ctx, store.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	adminSet := lo.SliceToMap(admins, func(id string) (string, struct{}) { return id, struct{}{} })

	counterparts := lo.Filter(profiles, func(p *store.Profile, _ int) bool {
		_, isAdmin := adminSet[p.ID]
		return p.ID != viewer.UserID && !isAdmin
	})

	// Placeholders share one timestamp so they tie and fall back to id order.
	now := a.now()
	results := make([]Conversation, len(counterparts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range counterparts {
		g.Go(func() error {
			c, err := a.entry(gctx, now, p.ID, p.ID, p.DisplayName())
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortConversations(results)
	a.logger.Debug("aggregated conversations", "viewer", viewer.UserID, "count", len(results))
	return results, nil
}

// entry builds the row for counterpartID from the latest message involving participantID.
func (a *Aggregator) entry(ctx context.Context, now time.Time, participantID, counterpartID, displayName string) (Conversation, error) {
	c := Conversation{
		CounterpartID:          counterpartID,
		CounterpartDisplayName: displayName,
	}

	msg, err := a.store.LatestMessage(ctx, participantID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.LastMessageBody = Placeholder
		c.LastMessageAt = now
		return c, nil
	case err != nil:
		return Conversation{}, fmt.Errorf("latest message for %s: %w", participantID, err)
	}

	c.LastMessageBody = msg.Body
	c.LastMessageAt = msg.CreatedAt
	c.HasMessages = true
	return c, nil
}

// sortConversations orders real entries before placeholders, each group by
// LastMessageAt descending, then by counterpart id.
func sortConversations(cs []Conversation) {
	slices.SortStableFunc(cs, func(a, b Conversation) int {
		if a.HasMessages != b.HasMessages {
			if a.HasMessages {
				return -1
			}
			return 1
		}
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		return cmp.Compare(a.CounterpartID, b.CounterpartID)
	})
}
