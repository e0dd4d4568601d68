package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Bus carries invalidations between stores.
type Bus interface {
	// Join registers a store. handler receives keys invalidated by other members.
	Join(ctx context.Context, handler func(key string)) (Member, error)
}

// Member is one store's handle on a Bus.
type Member interface {
	Publish(ctx context.Context, key string) error
	Close() error
}

// LocalBus connects stores living in the same process.
type LocalBus struct {
	mu       sync.Mutex
	handlers map[int]func(string)
	next     int
}

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(string))}
}

func (b *LocalBus) Join(_ context.Context, handler func(key string)) (Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	return &localMember{bus: b, id: id}, nil
}

type localMember struct {
	bus *LocalBus
	id  int
}

func (m *localMember) Publish(_ context.Context, key string) error {
	m.bus.mu.Lock()
	handlers := make([]func(string), 0, len(m.bus.handlers))
	for id, h := range m.bus.handlers {
		if id != m.id {
			handlers = append(handlers, h)
		}
	}
	m.bus.mu.Unlock()

	for _, h := range handlers {
		h(key)
	}
	return nil
}

func (m *localMember) Close() error {
	m.bus.mu.Lock()
	delete(m.bus.handlers, m.id)
	m.bus.mu.Unlock()
	return nil
}

// RedisChannel is the pub/sub channel used for invalidations.
const RedisChannel = "canvasadmin:store:invalidate"

type redisMessage struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// RedisBus shares invalidations between replicas through Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBus parses url and checks the connection.
func NewRedisBus(ctx context.Context, url string, logger *slog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisBusWithClient(client, logger), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

// Join subscribes to the invalidation channel. Messages are tagged with a
// per-member origin so a member never handles its own publications.
func (b *RedisBus) Join(ctx context.Context, handler func(key string)) (Member, error) {
	sub := b.client.Subscribe(ctx, RedisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", RedisChannel, err)
	}

	m := &redisMember{bus: b, sub: sub, origin: uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(m.done)
		for msg := range sub.Channel() {
			var rm redisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				b.logger.Warn("dropping malformed invalidation", "payload", msg.Payload, "error", err)
				continue
			}
			if rm.Origin == m.origin {
				continue
			}
			handler(rm.Key)
		}
	}()
	return m, nil
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisMember struct {
	bus    *RedisBus
	sub    *redis.PubSub
	origin string
	done   chan struct{}
}

func (m *redisMember) Publish(ctx context.Context, key string) error {
	payload, err := json.Marshal(redisMessage{Origin: m.origin, Key: key})
	if err != nil {
		return err
	}
	return m.bus.client.Publish(ctx, RedisChannel, payload).Err()
}

func (m *redisMember) Close() error {
	err := m.sub.Close()
	<-m.done
	return err
}
