// Package events distributes trust-engine domain events (score computed,
// requirement resolved, challenge lifecycle transitions) to interested
// consumers. The LocalBus serves single-process deployments; RedisBus fans
// events out across pods via Redis Pub/Sub.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType classifies event categories.
type EventType string

const (
	EventTrustScoreComputed  EventType = "trust.score.computed"
	EventRequirementResolved EventType = "mfa.requirement.resolved"
	EventChallengeIssued     EventType = "mfa.challenge.issued"
	EventChallengeSuperseded EventType = "mfa.challenge.superseded"
	EventSessionVerified     EventType = "session.verified"
	EventVerificationFailed  EventType = "session.verification.failed"
)

// Event is one domain event.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	SubjectID string                 `json:"subject_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler processes events of a subscribed type.
type Handler func(ctx context.Context, event *Event)

// Bus provides publish/subscribe for domain events.
type Bus interface {
	// Publish sends an event to all subscribers of the event type.
	Publish(ctx context.Context, event *Event) error

	// Subscribe registers a handler for a specific event type and returns
	// an unsubscribe function.
	Subscribe(eventType EventType, handler Handler) (unsubscribe func())

	// Close shuts down the bus.
	Close() error
}

type subscriberEntry struct {
	id      int
	handler Handler
}

// LocalBus is the in-memory pub/sub implementation. Suitable for
// single-process deployments; use RedisBus for multi-pod.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriberEntry
	nextID      int
	closed      bool
}

// NewLocalBus creates an in-process event bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[EventType][]subscriberEntry)}
}

// Publish delivers the event synchronously to local subscribers. Handler
// panics are isolated so one bad consumer cannot take down the decision
// path.
func (b *LocalBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	subs := make([]subscriberEntry, len(b.subscribers[event.Type]))
	copy(subs, b.subscribers[event.Type])
	b.mu.RUnlock()

	stamp(event)
	for _, sub := range subs {
		deliver(ctx, sub.handler, event)
	}
	return nil
}

// Subscribe registers a handler for an event type.
func (b *LocalBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close shuts down the bus; subsequent publishes are dropped silently.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.mu.Unlock()
	return nil
}

func deliver(ctx context.Context, h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "type", e.Type, "panic", r)
		}
	}()
	h(ctx, e)
}

func stamp(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
