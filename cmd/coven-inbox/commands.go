// ABOUTME: CLI subcommands for coven-inbox
// ABOUTME: init, add-user, token, conversations, send and tail

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/routing"
	"github.com/2389/coven-inbox/internal/session"
	"github.com/2389/coven-inbox/internal/store"
)

// tokenTTL is the lifetime of tokens printed by add-user and token.
const tokenTTL = 30 * 24 * time.Hour

// historyRetryInterval paces tail's history reloads while the store is failing.
const historyRetryInterval = 5 * time.Second

func runInit(ctx context.Context) error {
	configPath := config.DefaultPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Print(banner)
	fmt.Println()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		configContent := fmt.Sprintf(`# coven-inbox configuration
# Generated by coven-inbox init

database:
  path: "%s"

feed:
  # memory only reaches views in the same process; use redis to share
  # live updates between processes.
  backend: "memory"
  # redis_url: "redis://localhost:6379/0"

auth:
  jwt_secret: "%s"

chat:
  aggregator_concurrency: 4
  history_timeout: "10s"
  resubscribe_backoff: "500ms"

logging:
  # info shows session and role transitions on stderr
  level: "warn"
  format: "text"
`, config.DefaultDatabasePath(), jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		gray.Printf("  • Config exists: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStoreWithLogger(cfg.Database.Path, setupLogger(cfg.Logging))
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database ready: %s\n", cfg.Database.Path)

	fmt.Println()
	fmt.Println("  Next: coven-inbox add-user --email you@example.com --admin")
	return nil
}

func runAddUser(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"email", "name"}, []string{"admin"})
	if err != nil {
		return err
	}
	email, err := requireFlag(flags, "email")
	if err != nil {
		return err
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("--email must be an email address")
	}
	name := strings.TrimSpace(flags["name"])
	if len(name) > 100 {
		return fmt.Errorf("name exceeds maximum length of 100 characters")
	}
	role := store.RoleUser
	if flags["admin"] == "true" {
		role = store.RoleAdmin
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile := &store.Profile{
		ID:       uuid.New().String(),
		Email:    email,
		FullName: name,
	}
	if err := a.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicateProfile) {
			return fmt.Errorf("a profile with email %s already exists", email)
		}
		return fmt.Errorf("creating profile: %w", err)
	}
	if err := a.store.SetRole(ctx, profile.ID, role); err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}

	token, err := a.verifier.Generate(profile.ID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Printf("✓ Created %s %s\n", role, profile.DisplayName())
	fmt.Printf("  ID:    %s\n", profile.ID)
	fmt.Print("  Token: ")
	cyan.Println(token)
	return nil
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user"}, nil)
	if err != nil {
		return err
	}
	userID, err := requireFlag(flags, "user")
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.store.GetProfile(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no profile with id %s", userID)
		}
		return fmt.Errorf("looking up profile: %w", err)
	}

	token, err := a.verifier.Generate(userID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runConversations(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"token"}, nil)
	if err != nil {
		return err
	}
	token, err := requireFlag(flags, "token")
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.signIn(ctx, token)
	if err != nil {
		return err
	}

	list, err := a.chat.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	gray.Printf("Signed in as %s (%s)\n\n", snap.Identity.DisplayName, snap.Role)
	if len(list) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, c := range list {
		cyan.Print(c.CounterpartDisplayName)
		gray.Printf("  %s", c.CounterpartID)
		if c.HasMessages {
			gray.Printf("  %s", humanize.Time(c.LastMessageAt))
		}
		fmt.Println()
		fmt.Printf("  %s\n", truncate(c.LastMessageBody, 72))
	}
	return nil
}

func runSend(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"token", "to", "body"}, nil)
	if err != nil {
		return err
	}
	token, err := requireFlag(flags, "token")
	if err != nil {
		return err
	}
	body := flags["body"]

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.signIn(ctx, token)
	if err != nil {
		return err
	}

	msg, err := a.chat.SendTo(ctx, strings.TrimSpace(flags["to"]), body)
	switch {
	case errors.Is(err, routing.ErrNoCounterpart):
		return fmt.Errorf("admins must pass --to with the user id to answer")
	case err != nil:
		return err
	}

	to := "admin pool"
	if msg.ReceiverID != nil {
		to = a.displayName(ctx, map[string]string{}, msg.Receiver())
	}
	color.New(color.FgGreen).Printf("✓ Sent to %s", to)
	color.New(color.FgHiBlack).Printf("  %s (%s)\n", msg.ID, snap.Role)
	return nil
}

func runTail(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"token", "with"}, nil)
	if err != nil {
		return err
	}
	token, err := requireFlag(flags, "token")
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.signIn(ctx, token)
	if err != nil {
		return err
	}

	view, err := a.chat.Select(ctx, strings.TrimSpace(flags["with"]))
	switch {
	case errors.Is(err, routing.ErrNoCounterpart):
		return fmt.Errorf("admins must pass --with to choose a conversation")
	case err != nil:
		return fmt.Errorf("opening conversation: %w", err)
	}

	if a.cfg.Feed.Backend == config.FeedMemory {
		a.logger.Warn("memory feed only sees messages sent by this process; set feed.backend to redis to follow other senders")
	}

	select {
	case <-view.Ready():
	case <-ctx.Done():
		return nil
	}

	names := map[string]string{}
	seen := map[string]struct{}{}
	show := func(m *store.Message, earlier bool) {
		if _, ok := seen[m.ID]; ok {
			return
		}
		seen[m.ID] = struct{}{}
		if earlier {
			color.New(color.FgHiBlack).Print("(earlier) ")
		}
		printMessage(a.displayName(ctx, names, m.SenderID), m, snap)
	}

	history, follower := view.Follow()
	defer func() { follower.Close() }()
	for _, m := range history {
		show(m, false)
	}
	local := len(history)
	color.New(color.FgHiBlack).Println("-- following, Ctrl-C to stop --")

	retry := time.NewTicker(historyRetryInterval)
	defer retry.Stop()
	failing := false
	checkHistory := func() {
		err := view.Err()
		switch {
		case err != nil && !failing:
			color.New(color.FgYellow).Printf("! %v, retrying\n", err)
		case err == nil && failing:
			color.New(color.FgHiBlack).Println("-- history recovered --")
		}
		failing = err != nil
		if failing {
			view.Reload()
		}
	}
	checkHistory()

	refresh := time.NewTimer(a.refreshDelay())
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-view.Done():
			return nil

		case <-retry.C:
			checkHistory()

		case <-refresh.C:
			if err := a.refreshSession(ctx); err != nil {
				a.logger.Warn("session refresh failed", "error", err)
			}
			refresh.Reset(a.refreshDelay())

		case u, ok := <-follower.Updates():
			if !ok {
				if !errors.Is(follower.Err(), conversation.ErrFollowerLagged) {
					return nil
				}
				a.logger.Info("fell behind the conversation, catching up")
				history, follower = view.Follow()
				for _, m := range history {
					show(m, false)
				}
				local = len(history)
				continue
			}
			show(u.Message, u.Index < local)
			local++
		}
	}
}

func printMessage(sender string, m *store.Message, snap session.Snapshot) {
	gray := color.New(color.FgHiBlack)
	name := color.New(color.FgCyan)
	if m.IsAdminMessage {
		name = color.New(color.FgMagenta)
	}
	if snap.Identity != nil && m.SenderID == snap.Identity.UserID {
		name = color.New(color.FgGreen)
		sender = "you"
	}

	gray.Printf("%s ", m.CreatedAt.Local().Format("Jan 02 15:04"))
	name.Printf("%s: ", sender)
	fmt.Println(m.Body)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
