package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus distributes events across pods using Redis Pub/Sub. Locally it
// also fans out to in-process subscribers so co-located handlers are not
// forced through the wire.
type RedisBus struct {
	mu         sync.RWMutex
	rdb        *redis.Client
	prefix     string
	localSubs  map[EventType][]subscriberEntry
	nextID     int
	unsubFuncs []func()
	closed     bool
}

// NewRedisBus connects to Redis and returns a cross-pod event bus. The
// connection is verified with a ping; the caller decides whether to fall
// back to a LocalBus on error.
func NewRedisBus(addr, password string, db int, channelPrefix string) (*RedisBus, error) {
	if channelPrefix == "" {
		channelPrefix = "trustengine:events:"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis event bus connected", "addr", addr, "db", db)
	return &RedisBus{
		rdb:       rdb,
		prefix:    channelPrefix,
		localSubs: make(map[EventType][]subscriberEntry),
	}, nil
}

// Publish sends the event to Redis so all pods receive it. On publish
// failure the event is still delivered to in-process subscribers.
func (b *RedisBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	stamp(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := b.prefix + string(event.Type)
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		slog.Warn("redis publish failed, delivering locally only",
			"type", event.Type, "error", err)
		b.deliverLocal(ctx, event)
		return nil
	}
	return nil
}

// Subscribe registers a handler for an event type. The handler receives
// events from all pods via Redis as well as local publishers.
func (b *RedisBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.localSubs[eventType] = append(b.localSubs[eventType], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	channel := b.prefix + string(eventType)
	unsub, err := b.subscribeChannel(channel)
	if err != nil {
		slog.Warn("redis subscribe failed, local-only delivery",
			"type", eventType, "error", err)
	} else {
		b.mu.Lock()
		b.unsubFuncs = append(b.unsubFuncs, unsub)
		b.mu.Unlock()
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.localSubs[eventType]
		for i, entry := range subs {
			if entry.id == id {
				b.localSubs[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close shuts down all Redis subscriptions and the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	unsubs := b.unsubFuncs
	b.unsubFuncs = nil
	b.localSubs = make(map[EventType][]subscriberEntry)
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return b.rdb.Close()
}

func (b *RedisBus) subscribeChannel(channel string) (func(), error) {
	sub := b.rdb.Subscribe(context.Background(), channel)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("malformed event payload", "channel", channel, "error", err)
				continue
			}
			b.deliverLocal(context.Background(), &event)
		}
	}()

	return func() { sub.Close() }, nil
}

func (b *RedisBus) deliverLocal(ctx context.Context, event *Event) {
	b.mu.RLock()
	handlers := make([]subscriberEntry, len(b.localSubs[event.Type]))
	copy(handlers, b.localSubs[event.Type])
	b.mu.RUnlock()

	for _, entry := range handlers {
		deliver(ctx, entry.handler, event)
	}
}
