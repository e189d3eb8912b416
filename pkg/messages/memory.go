package messages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
)

// MemoryStore is a MessageStore backed by maps, with the same dedup and monotonic rules as Postgres.
// FailNext makes the next Insert fail after (commitAnyway=true) or before storing, to simulate a lost ack.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Message
	byRequest map[string]string // sender_id/request_id -> id
	order     []string

	failNext     error
	commitAnyway bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Message),
		byRequest: make(map[string]string),
	}
}

func (s *MemoryStore) FailNext(err error, commitAnyway bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
	s.commitAnyway = commitAnyway
}

func (s *MemoryStore) Insert(_ context.Context, m Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failure, commit := s.failNext, s.commitAnyway
	s.failNext, s.commitAnyway = nil, false
	if failure != nil && !commit {
		return Message{}, false, failure
	}

	key := m.SenderID + "/" + m.RequestID
	if id, ok := s.byRequest[key]; ok {
		if failure != nil {
			return Message{}, false, failure
		}
		return *s.byID[id], false, nil
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Status = m.DeliveryStatus()
	stored := m
	s.byID[m.ID] = &stored
	s.byRequest[key] = m.ID
	s.order = append(s.order, m.ID)

	if failure != nil {
		return Message{}, false, failure
	}
	return stored, true, nil
}

func (s *MemoryStore) Get(_ context.Context, messageID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return Message{}, apperr.NotFound("message")
	}
	return *m, nil
}

func (s *MemoryStore) update(conversationID, readerID string, ids []string, apply func(m *Message) bool) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]string, 0)
	for _, id := range s.order {
		m := s.byID[id]
		if m.ConversationID != conversationID || m.SenderID == readerID {
			continue
		}
		if ids != nil && !want[id] {
			continue
		}
		if apply(m) {
			m.Status = m.DeliveryStatus()
			out = append(out, id)
		}
	}
	return out
}

func (s *MemoryStore) MarkDelivered(_ context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return s.update(conversationID, readerID, messageIDs, func(m *Message) bool {
		if m.DeliveredAt != nil {
			return false
		}
		m.DeliveredAt = &at
		return true
	}), nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, conversationID, readerID string, messageIDs []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return s.update(conversationID, readerID, messageIDs, func(m *Message) bool {
		if m.SeenAt != nil {
			return false
		}
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
		m.SeenAt = &at
		return true
	}), nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(conversationID, readerID, nil, func(m *Message) bool {
		if m.ReadAt != nil {
			return false
		}
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
		if m.SeenAt == nil {
			m.SeenAt = &at
		}
		m.ReadAt = &at
		return true
	}), nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, limit int, before *time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	out := make([]Message, 0)
	for _, id := range s.order {
		m := s.byID[id]
		if m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Unread counts messages in the conversation not sent by userID with no read_at.
func (s *MemoryStore) Unread(conversationID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.byID {
		if m.ConversationID == conversationID && m.SenderID != userID && m.ReadAt == nil {
			n++
		}
	}
	return n
}

// Count returns the number of stored messages.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
