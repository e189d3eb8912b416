// Package typing carries the ephemeral "user is typing" signal. Nothing here is persisted;
// receivers expire indicators on their own after a TTL.
package typing

import (
	"context"
	"time"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/realtime"
)

const EventTyping = "typing"

type Signal struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	At             time.Time `json:"at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Membership answers whether a user belongs to a conversation.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type Signaler struct {
	members Membership
	pub     realtime.Publisher
	ttl     time.Duration
	now     func() time.Time
}

func NewSignaler(members Membership, pub realtime.Publisher, ttl time.Duration) *Signaler {
	return &Signaler{
		members: members,
		pub:     pub,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send broadcasts the signal on the conversation's typing topic.
func (s *Signaler) Send(ctx context.Context, conversationID, userID string, isTyping bool) (Signal, error) {
	ok, err := s.members.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return Signal{}, err
	}
	if !ok {
		return Signal{}, apperr.PermissionDenied("not a participant of this conversation")
	}

	now := s.now()
	sig := Signal{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		At:             now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.pub.Publish(ctx, realtime.TypingTopic(conversationID), EventTyping, sig); err != nil {
		return Signal{}, apperr.Transient("publish typing", err)
	}
	return sig, nil
}
