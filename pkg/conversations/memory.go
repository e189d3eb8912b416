package conversations

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
)

// MemoryRepository is an in-process Repository keyed the same way as the Postgres one.
type MemoryRepository struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	byKey map[string]string
	parts map[string][]*Participant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		convs: make(map[string]*Conversation),
		byKey: make(map[string]string),
		parts: make(map[string][]*Participant),
	}
}

func (r *MemoryRepository) FindOrCreate(_ context.Context, requester, other, subject string) (Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(requester, other)
	if id, ok := r.byKey[key]; ok {
		for _, p := range r.parts[id] {
			if p.UserID == requester {
				p.HiddenAt = nil
			}
		}
		return *r.convs[id], false, nil
	}

	now := time.Now().UTC()
	conv := &Conversation{ID: uuid.NewString(), Subject: subject, ConversationKey: key, LastActivityAt: now, CreatedAt: now}
	r.convs[conv.ID] = conv
	r.byKey[key] = conv.ID
	r.parts[conv.ID] = []*Participant{
		{ConversationID: conv.ID, UserID: requester, JoinedAt: now},
		{ConversationID: conv.ID, UserID: other, JoinedAt: now},
	}
	return *conv, true, nil
}

func (r *MemoryRepository) FindOrCreateByScan(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	return r.FindOrCreate(ctx, requester, other, subject)
}

func (r *MemoryRepository) ListFor(_ context.Context, userID string) ([]Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0)
	for id, conv := range r.convs {
		var me *Participant
		var peer string
		for _, p := range r.parts[id] {
			if p.UserID == userID {
				me = p
			} else {
				peer = p.UserID
			}
		}
		if me == nil || me.HiddenAt != nil {
			continue
		}
		out = append(out, Summary{
			ID: conv.ID, Subject: conv.Subject, LastMessage: conv.LastMessage,
			LastActivityAt: conv.LastActivityAt, CreatedAt: conv.CreatedAt,
			IsPinned: me.IsPinned, PeerID: peer,
		})
	}
	SortSummaries(out)
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, conversationID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return Conversation{}, apperr.NotFound("conversation")
	}
	return *conv, nil
}

func (r *MemoryRepository) Participants(_ context.Context, conversationID string) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, 2)
	for _, p := range r.parts[conversationID] {
		out = append(out, *p)
	}
	return out, nil
}

func (r *MemoryRepository) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.parts[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Hide(_ context.Context, conversationID, userID string) error {
	return r.withParticipant(conversationID, userID, func(p *Participant) {
		if p.HiddenAt == nil {
			now := time.Now().UTC()
			p.HiddenAt = &now
		}
	})
}

func (r *MemoryRepository) SetPinned(_ context.Context, conversationID, userID string, pinned bool) error {
	return r.withParticipant(conversationID, userID, func(p *Participant) { p.IsPinned = pinned })
}

func (r *MemoryRepository) withParticipant(conversationID, userID string, fn func(*Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.parts[conversationID] {
		if p.UserID == userID {
			fn(p)
			return nil
		}
	}
	return apperr.NotFound("participant")
}
