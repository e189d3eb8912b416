// Package realtime is the publish/subscribe transport behind live chat: per-conversation
// message events, the presence roster, typing broadcasts and per-user inboxes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const PresenceTopic = "presence"

func ConversationTopic(conversationID string) string { return "conversation:" + conversationID }

func TypingTopic(conversationID string) string { return "typing:" + conversationID }

func UserTopic(userID string) string { return "user:" + userID }

// Event is the envelope every subscriber receives.
type Event struct {
	Topic  string          `json:"topic"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

func NewEvent(topic, eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{Topic: topic, Type: eventType, Data: raw, SentAt: time.Now().UTC()}, nil
}

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, data any) error
}

type Handler func(Event)

// Bus carries events between publishers and the hub of one or more server instances.
type Bus interface {
	Publisher
	// Run delivers every published event to handler until ctx is cancelled.
	Run(ctx context.Context, handler Handler) error
}

// LocalBus delivers events synchronously inside one process.
type LocalBus struct {
	mu      sync.RWMutex
	handler Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, topic, eventType string, data any) error {
	ev, err := NewEvent(topic, eventType, data)
	if err != nil {
		return err
	}
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h != nil {
		h(ev)
	}
	return nil
}

func (b *LocalBus) Run(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	return nil
}

// Attach installs handler without blocking; used when the hub and bus share a process.
func (b *LocalBus) Attach(handler Handler) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
