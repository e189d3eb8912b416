package messages

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/notify"
	"kisanmandi/pkg/realtime"
)

// Conversations is the part of the conversation store the engine needs.
type Conversations interface {
	Authorize(ctx context.Context, conversationID, userID string) ([]conversations.Participant, error)
}

type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type Service interface {
	// Send stores a message; created is false when the request id was already used.
	Send(ctx context.Context, in SendInput) (Message, bool, error)
	History(ctx context.Context, conversationID, userID string, limit int, before *time.Time) ([]Message, error)
	MarkDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) (Receipt, error)
	MarkSeen(ctx context.Context, conversationID, userID string, messageIDs []string) (Receipt, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (Receipt, error)
}

type Options struct {
	MaxLength int
}

type messageService struct {
	store    MessageStore
	convs    Conversations
	presence PresenceChecker
	pub      realtime.Publisher
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
	logger   *log.Logger
}

func NewService(store MessageStore, convs Conversations, pres PresenceChecker, pub realtime.Publisher, notifier notify.Notifier, opts Options) Service {
	if opts.MaxLength <= 0 {
		opts.MaxLength = 10000
	}
	return &messageService{
		store:    store,
		convs:    convs,
		presence: pres,
		pub:      pub,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.New(log.Writer(), "[messages] ", log.LstdFlags),
	}
}

func (s *messageService) validate(in *SendInput) error {
	if in.MessageType == "" {
		in.MessageType = TypeText
	}
	switch in.MessageType {
	case TypeText, TypeSystem:
		if strings.TrimSpace(in.Content) == "" {
			return apperr.Invalid("message content cannot be empty")
		}
	case TypeOffer, TypePayment:
		if in.OfferID == "" {
			return apperr.Invalid("offer_id is required for offer and payment messages")
		}
	default:
		return apperr.Invalid("unknown message_type " + in.MessageType)
	}
	if utf8.RuneCountInString(in.Content) > s.opts.MaxLength {
		return apperr.Invalid("message content too long")
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	if in.MessageType == TypeText && strings.HasPrefix(in.RequestID, ReservedRequestPrefix) {
		return apperr.Invalid("request_id prefix " + ReservedRequestPrefix + " is reserved")
	}
	return nil
}

func (s *messageService) Send(ctx context.Context, in SendInput) (Message, bool, error) {
	if err := s.validate(&in); err != nil {
		return Message{}, false, err
	}

	parts, err := s.convs.Authorize(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return Message{}, false, err
	}
	recipient, ok := conversations.PeerOf(parts, in.SenderID)
	if !ok {
		return Message{}, false, apperr.Invalid("conversation has no other participant")
	}

	m := Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		RequestID:      in.RequestID,
		Content:        in.Content,
		MessageType:    in.MessageType,
		CreatedAt:      s.now(),
	}
	if in.OfferID != "" {
		offerID := in.OfferID
		m.OfferID = &offerID
	}

	stored, created, err := s.store.Insert(ctx, m)
	if err != nil {
		return Message{}, false, err
	}
	if !created {
		if stored.ConversationID != in.ConversationID {
			return Message{}, false, apperr.Invalid("request_id already used in another conversation")
		}
		if stored.MessageType != in.MessageType || stored.offerID() != in.OfferID {
			return Message{}, false, apperr.Invalid("request_id already used for a different message")
		}
		return stored, false, nil
	}

	s.publish(ctx, realtime.ConversationTopic(stored.ConversationID), EventCreated, stored)
	s.publish(ctx, realtime.UserTopic(recipient), EventConversationUpdated, ConversationUpdate{
		ConversationID: stored.ConversationID,
		SenderID:       stored.SenderID,
		LastMessage:    stored.Preview(),
		LastActivityAt: stored.CreatedAt,
	})

	// offer and system messages carry their own notification from the offer workflow
	if stored.MessageType == TypeText {
		s.notifyIfOffline(ctx, recipient, stored)
	}
	return stored, true, nil
}

func (s *messageService) notifyIfOffline(ctx context.Context, recipient string, m Message) {
	online, err := s.presence.IsOnline(ctx, recipient)
	if err != nil {
		s.logger.Printf("presence check for %s failed: %v", recipient, err)
	}
	if online {
		return
	}
	err = s.notifier.Notify(ctx, notify.Notification{
		UserID:     recipient,
		Title:      "New message",
		Body:       truncate(m.Preview(), 120),
		EntityType: notify.EntityConversation,
		EntityID:   m.ConversationID,
	})
	if err != nil {
		s.logger.Printf("notify %s of message %s failed: %v", recipient, m.ID, err)
	}
}

func (s *messageService) History(ctx context.Context, conversationID, userID string, limit int, before *time.Time) ([]Message, error) {
	if _, err := s.convs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, conversationID, limit, before)
}

func (s *messageService) MarkDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) (Receipt, error) {
	return s.advance(ctx, conversationID, userID, StatusDelivered, EventDelivered, func(at time.Time) ([]string, error) {
		return s.store.MarkDelivered(ctx, conversationID, userID, messageIDs, at)
	})
}

func (s *messageService) MarkSeen(ctx context.Context, conversationID, userID string, messageIDs []string) (Receipt, error) {
	return s.advance(ctx, conversationID, userID, StatusSeen, EventSeen, func(at time.Time) ([]string, error) {
		return s.store.MarkSeen(ctx, conversationID, userID, messageIDs, at)
	})
}

func (s *messageService) MarkConversationRead(ctx context.Context, conversationID, userID string) (Receipt, error) {
	return s.advance(ctx, conversationID, userID, StatusRead, EventRead, func(at time.Time) ([]string, error) {
		return s.store.MarkConversationRead(ctx, conversationID, userID, at)
	})
}

func (s *messageService) advance(ctx context.Context, conversationID, userID, status, eventType string, update func(time.Time) ([]string, error)) (Receipt, error) {
	if _, err := s.convs.Authorize(ctx, conversationID, userID); err != nil {
		return Receipt{}, err
	}

	at := s.now()
	ids, err := update(at)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{ConversationID: conversationID, ReaderID: userID, Status: status, MessageIDs: ids, At: at}
	if len(ids) > 0 {
		s.publish(ctx, realtime.ConversationTopic(conversationID), eventType, receipt)
	}
	return receipt, nil
}

func (s *messageService) publish(ctx context.Context, topic, eventType string, data any) {
	if err := s.pub.Publish(ctx, topic, eventType, data); err != nil {
		s.logger.Printf("publish %s on %s failed: %v", eventType, topic, err)
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
