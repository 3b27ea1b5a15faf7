// ABOUTME: Redis pub/sub change feed for multi-process deployments
// ABOUTME: Publishes inserted rows as JSON on "<prefix>:<table>" channels via go-redis

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/coven-inbox/internal/store"
)

// DefaultChannelPrefix namespaces feed channels in a shared Redis.
const DefaultChannelPrefix = "coven-inbox"

// RedisFeed implements Feed on Redis PUBLISH/SUBSCRIBE. Redis pub/sub has no
// replay, so a broken connection ends the subscription as dropped and the
// subscriber reconciles against the store.
type RedisFeed struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// Ensure RedisFeed implements Feed.
var _ Feed = (*RedisFeed)(nil)

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(redisURL, prefix string, bufferSize int, logger *slog.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	f := NewRedisFeedWithClient(client, prefix, bufferSize, logger)
	f.ownsClient = true
	return f, nil
}

// NewRedisFeedWithClient creates a feed on an existing client. The client is not
// closed by Close.
func NewRedisFeedWithClient(client *redis.Client, prefix string, bufferSize int, logger *slog.Logger) *RedisFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RedisFeed{
		client:     client,
		prefix:     prefix,
		bufferSize: bufferSize,
		logger:     logger.With("component", "redis_feed"),
		subs:       make(map[string]*Subscription),
	}
}

// channel returns the Redis channel carrying events for table.
func (f *RedisFeed) channel(table string) string {
	return f.prefix + ":" + table
}

// wireMessage is the JSON shape of a chat_messages row.
type wireMessage struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     *string   `json:"receiver_id"`
	Message        string    `json:"message"`
	IsAdminMessage bool      `json:"is_admin_message"`
	CreatedAt      time.Time `json:"created_at"`
}

type wireEvent struct {
	Op     Op          `json:"op"`
	Table  string      `json:"table"`
	Record wireMessage `json:"record"`
}

func encodeEvent(e Event) ([]byte, error) {
	if e.Message == nil {
		return nil, fmt.Errorf("encode event: missing message")
	}
	m := e.Message
	return json.Marshal(wireEvent{
		Op:    e.Op,
		Table: e.Table,
		Record: wireMessage{
			ID:             m.ID,
			SenderID:       m.SenderID,
			ReceiverID:     m.ReceiverID,
			Message:        m.Body,
			IsAdminMessage: m.IsAdminMessage,
			CreatedAt:      m.CreatedAt,
		},
	})
}

func decodeEvent(payload string) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Event{
		Op:    w.Op,
		Table: w.Table,
		Message: &store.Message{
			ID:             w.Record.ID,
			SenderID:       w.Record.SenderID,
			ReceiverID:     w.Record.ReceiverID,
			Body:           w.Record.Message,
			IsAdminMessage: w.Record.IsAdminMessage,
			CreatedAt:      w.Record.CreatedAt.UTC(),
		},
	}, nil
}

// Publish encodes event as JSON and publishes it on the table channel.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel(event.Table), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the filter's table channel (or every table when the filter
// has none). It returns only after Redis confirmed the subscription, so events
// published afterwards are guaranteed to be delivered.
func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.mu.Unlock()

	var ps *redis.PubSub
	if filter.Table == "" {
		ps = f.client.PSubscribe(ctx, f.channel("*"))
	} else {
		ps = f.client.Subscribe(ctx, f.channel(filter.Table))
	}
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := newSubscription(filter, f.bufferSize)
	var closing atomic.Bool
	sub.cancel = func() {
		closing.Store(true)
		ps.Close()
		<-sub.Done()
	}

	f.mu.Lock()
	f.subs[sub.id] = sub
	f.mu.Unlock()

	go f.pump(ps, sub, &closing)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	f.logger.Debug("subscriber added", "sub_id", sub.id, "table", filter.Table)
	return sub, nil
}

// pump is the only goroutine that delivers to or finishes sub.
func (f *RedisFeed) pump(ps *redis.PubSub, sub *Subscription, closing *atomic.Bool) {
	defer func() {
		f.mu.Lock()
		delete(f.subs, sub.id)
		f.mu.Unlock()
	}()

	for {
		raw, err := ps.Receive(context.Background())
		if err != nil {
			if closing.Load() {
				sub.finish(nil)
				return
			}
			f.logger.Warn("redis subscription lost", "sub_id", sub.id, "error", err)
			ps.Close()
			sub.finish(ErrSubscriptionDropped)
			return
		}

		msg, ok := raw.(*redis.Message)
		if !ok {
			continue
		}

		event, err := decodeEvent(msg.Payload)
		if err != nil {
			f.logger.Warn("ignoring malformed event", "channel", msg.Channel, "error", err)
			continue
		}

		if !sub.deliver(event) {
			f.logger.Warn("dropping slow subscriber", "sub_id", sub.id)
			ps.Close()
			sub.finish(ErrSubscriptionDropped)
			return
		}
	}
}

// Close ends every subscription and, if the feed created it, closes the client.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	if f.ownsClient {
		return f.client.Close()
	}
	return nil
}
