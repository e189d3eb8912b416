// Package timeline keeps a client's optimistic view of one conversation. Local sends appear
// immediately as provisional entries and are folded into the confirmed server messages as
// acks and pushes arrive.
package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/messages"
)

const (
	StateSending   = "sending"
	StateFailed    = "failed"
	StateConfirmed = "confirmed"
)

// Sender performs the durable write. It must be idempotent on RequestID.
type Sender func(ctx context.Context, in messages.SendInput) (messages.Message, error)

type Entry struct {
	// LocalID is set for entries that started as a local send.
	LocalID   string           `json:"local_id,omitempty"`
	RequestID string           `json:"request_id"`
	State     string           `json:"state"`
	Message   messages.Message `json:"message"`
	Err       string           `json:"error,omitempty"`

	// sortAt is fixed when a local send begins, so a retried send keeps its place.
	sortAt time.Time
}

func (e Entry) sortKey() (time.Time, string) {
	at := e.Message.CreatedAt
	if !e.sortAt.IsZero() {
		at = e.sortAt
	}
	if e.Message.ID != "" {
		return at, e.Message.ID
	}
	return at, e.LocalID
}

type Timeline struct {
	mu             sync.Mutex
	conversationID string
	userID         string
	send           Sender
	now            func() time.Time

	provisional map[string]*Entry // local id
	confirmed   map[string]*Entry // server id
	byRequest   map[string]string // request id -> local id, while provisional
}

func New(conversationID, userID string, send Sender) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		userID:         userID,
		send:           send,
		now:            func() time.Time { return time.Now().UTC() },
		provisional:    make(map[string]*Entry),
		confirmed:      make(map[string]*Entry),
		byRequest:      make(map[string]string),
	}
}

// Load replaces the confirmed set with a history page; provisional entries are kept.
func (t *Timeline) Load(history []messages.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.confirmed
	t.confirmed = make(map[string]*Entry, len(history))
	for _, m := range history {
		e := t.confirmLocked(m)
		if old, ok := prev[m.ID]; ok && old.LocalID != "" {
			e.LocalID = old.LocalID
			e.sortAt = old.sortAt
		}
	}
}

// Begin records a local send and returns its provisional entry without doing any I/O.
func (t *Timeline) Begin(content string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	localID := "local-" + uuid.NewString()
	now := t.now()
	e := &Entry{
		LocalID:   localID,
		RequestID: uuid.NewString(),
		State:     StateSending,
		Message: messages.Message{
			ConversationID: t.conversationID,
			SenderID:       t.userID,
			Content:        content,
			MessageType:    messages.TypeText,
			CreatedAt:      now,
		},
		sortAt: now,
	}
	t.provisional[localID] = e
	t.byRequest[e.RequestID] = localID
	return *e
}

// Commit sends the provisional entry. On success it is replaced by the server message.
func (t *Timeline) Commit(ctx context.Context, localID string) (Entry, error) {
	t.mu.Lock()
	e, ok := t.provisional[localID]
	if !ok {
		t.mu.Unlock()
		// already confirmed by a push
		return t.findByLocal(localID)
	}
	e.State = StateSending
	e.Err = ""
	in := messages.SendInput{
		ConversationID: t.conversationID,
		SenderID:       t.userID,
		RequestID:      e.RequestID,
		Content:        e.Message.Content,
		MessageType:    e.Message.MessageType,
	}
	t.mu.Unlock()

	m, err := t.send(ctx, in)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if cur, ok := t.provisional[localID]; ok {
			cur.State = StateFailed
			cur.Err = err.Error()
			return *cur, err
		}
		return Entry{}, err
	}
	return *t.confirmLocked(m), nil
}

// Retry re-commits a failed entry with its original content and request id.
func (t *Timeline) Retry(ctx context.Context, localID string) (Entry, error) {
	t.mu.Lock()
	e, ok := t.provisional[localID]
	if !ok || e.State != StateFailed {
		t.mu.Unlock()
		return t.findByLocal(localID)
	}
	t.mu.Unlock()
	return t.Commit(ctx, localID)
}

// Apply merges a pushed server message. A push for one of our pending sends replaces it.
func (t *Timeline) Apply(m messages.Message) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ConversationID != t.conversationID {
		return Entry{}
	}
	return *t.confirmLocked(m)
}

// ApplyReceipt moves delivery timestamps forward; it never clears one that is set.
func (t *Timeline) ApplyReceipt(r messages.Receipt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.ConversationID != t.conversationID {
		return
	}
	at := r.At
	apply := func(m *messages.Message) {
		// only messages sent by someone other than the reader advance
		if m.SenderID == r.ReaderID {
			return
		}
		rank := statusRank(r.Status)
		if rank >= statusRank(messages.StatusDelivered) && m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
		if rank >= statusRank(messages.StatusSeen) && m.SeenAt == nil {
			m.SeenAt = &at
		}
		if rank >= statusRank(messages.StatusRead) && m.ReadAt == nil {
			m.ReadAt = &at
		}
		m.Status = m.DeliveryStatus()
	}

	if len(r.MessageIDs) == 0 && r.Status == messages.StatusRead {
		for _, e := range t.confirmed {
			apply(&e.Message)
		}
		return
	}
	for _, id := range r.MessageIDs {
		if e, ok := t.confirmed[id]; ok {
			apply(&e.Message)
		}
	}
}

// Entries returns every entry ordered by created_at then id. Local sends are placed by the time
// they began rather than by the server time of the attempt that succeeded.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.provisional)+len(t.confirmed))
	for _, e := range t.confirmed {
		out = append(out, *e)
	}
	for _, e := range t.provisional {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, idi := out[i].sortKey()
		tj, idj := out[j].sortKey()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
	return out
}

// Pending returns the local ids that are not yet confirmed.
func (t *Timeline) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.provisional))
	for id := range t.provisional {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Timeline) confirmLocked(m messages.Message) *Entry {
	if m.Status == "" {
		m.Status = m.DeliveryStatus()
	}
	e, ok := t.confirmed[m.ID]
	if !ok {
		e = &Entry{RequestID: m.RequestID}
		t.confirmed[m.ID] = e
	}
	if m.SenderID == t.userID {
		if localID, pending := t.byRequest[m.RequestID]; pending {
			e.LocalID = localID
			if p, ok := t.provisional[localID]; ok {
				e.sortAt = p.sortAt
			}
			delete(t.provisional, localID)
			delete(t.byRequest, m.RequestID)
		}
	}
	e.State = StateConfirmed
	e.Err = ""
	e.Message = mergeReceipts(e.Message, m)
	return e
}

func (t *Timeline) findByLocal(localID string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.confirmed {
		if e.LocalID == localID {
			return *e, nil
		}
	}
	if e, ok := t.provisional[localID]; ok {
		return *e, nil
	}
	return Entry{}, apperr.NotFound("timeline entry")
}

// mergeReceipts keeps whichever copy has progressed further per timestamp.
func mergeReceipts(prev, next messages.Message) messages.Message {
	if prev.ID == "" {
		return next
	}
	if next.DeliveredAt == nil {
		next.DeliveredAt = prev.DeliveredAt
	}
	if next.SeenAt == nil {
		next.SeenAt = prev.SeenAt
	}
	if next.ReadAt == nil {
		next.ReadAt = prev.ReadAt
	}
	next.Status = next.DeliveryStatus()
	return next
}

func statusRank(status string) int {
	switch status {
	case messages.StatusDelivered:
		return 1
	case messages.StatusSeen:
		return 2
	case messages.StatusRead:
		return 3
	default:
		return 0
	}
}
