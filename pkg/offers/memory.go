package offers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
)

// MemoryRepository mirrors the Postgres repository's compare-and-set and payment rules.
type MemoryRepository struct {
	mu       sync.Mutex
	offers   map[string]*Offer
	payments []*Payment

	failUpdate error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{offers: make(map[string]*Offer)}
}

// FailNextUpdate makes the next UpdateStatus return err without changing anything.
func (r *MemoryRepository) FailNextUpdate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdate = err
}

func (r *MemoryRepository) Insert(_ context.Context, o Offer) (Offer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.RequestID != "" {
		for _, existing := range r.offers {
			if existing.BuyerID == o.BuyerID && existing.RequestID == o.RequestID {
				return *existing, false, nil
			}
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.UpdatedAt = o.CreatedAt
	stored := o
	r.offers[o.ID] = &stored
	return stored, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, offerID string) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[offerID]
	if !ok {
		return Offer{}, apperr.NotFound("offer")
	}
	return *o, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, offerID, from, to, actorID string, at time.Time) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdate; err != nil {
		r.failUpdate = nil
		return Offer{}, err
	}
	o, ok := r.offers[offerID]
	if !ok {
		return Offer{}, apperr.NotFound("offer")
	}
	if o.Status != from {
		return *o, apperr.InvalidTransition("offer", o.Status, to)
	}
	o.Status = to
	o.ActorID = actorID
	o.UpdatedAt = at
	return *o, nil
}

func (r *MemoryRepository) MarkPosted(_ context.Context, offerID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.offers[offerID]; ok && o.Status == status {
		o.PostedStatus = status
	}
	return nil
}

func (r *MemoryRepository) ListUnposted(_ context.Context, before time.Time, limit int) ([]Offer, error) {
	return r.filter(func(o *Offer) bool {
		return o.PostedStatus != o.Status && o.UpdatedAt.Before(before)
	}, limit), nil
}

func (r *MemoryRepository) ListByConversation(_ context.Context, conversationID string) ([]Offer, error) {
	return r.filter(func(o *Offer) bool { return o.ConversationID == conversationID }, 0), nil
}

func (r *MemoryRepository) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]Offer, error) {
	return r.filter(func(o *Offer) bool {
		return o.Status == StatusPending && o.CreatedAt.Before(before)
	}, limit), nil
}

func (r *MemoryRepository) filter(keep func(*Offer) bool, limit int) []Offer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Offer, 0)
	for _, o := range r.offers {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) InsertPayment(_ context.Context, p Payment) (Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.OfferID == p.OfferID && existing.Status == PaymentSubmitted {
			return *existing, false, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = PaymentSubmitted
	stored := p
	r.payments = append(r.payments, &stored)
	return stored, true, nil
}

func (r *MemoryRepository) SubmittedPayment(_ context.Context, offerID string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OfferID == offerID && p.Status == PaymentSubmitted {
			return *p, nil
		}
	}
	return Payment{}, apperr.NotFound("payment")
}

func (r *MemoryRepository) UnsettledPayments(_ context.Context, limit int) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payment, 0)
	for _, p := range r.payments {
		o, ok := r.offers[p.OfferID]
		if p.Status == PaymentSubmitted && ok && o.Status == StatusAccepted {
			out = append(out, *p)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Payments returns every stored payment for offerID.
func (r *MemoryRepository) Payments(offerID string) []Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payment, 0)
	for _, p := range r.payments {
		if p.OfferID == offerID {
			out = append(out, *p)
		}
	}
	return out
}
