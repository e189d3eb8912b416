// Package notify is the best-effort notification sink used by messaging and offers.
// Callers never roll back a state change because a notification failed.
package notify

import (
	"context"
	"time"
)

const (
	EntityConversation = "conversation"
	EntityOffer        = "offer"
)

type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
