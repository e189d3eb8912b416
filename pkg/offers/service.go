package offers

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/messages"
	"kisanmandi/pkg/notify"
)

// Conversations is what the offer workflow needs from the conversation store.
type Conversations interface {
	Open(ctx context.Context, requester, other, subject string) (conversations.Conversation, bool, error)
	Authorize(ctx context.Context, conversationID, userID string) ([]conversations.Participant, error)
}

// Poster appends messages to a conversation.
type Poster interface {
	Send(ctx context.Context, in messages.SendInput) (messages.Message, bool, error)
}

type Service interface {
	// Create makes an offer and posts it into the conversation with the farmer. Created is false
	// when the buyer's request id already made an offer, which is returned instead.
	Create(ctx context.Context, in CreateInput) (Offer, bool, error)
	Get(ctx context.Context, offerID, userID string) (Offer, error)
	ListForConversation(ctx context.Context, conversationID, userID string) ([]Offer, error)
	Accept(ctx context.Context, offerID, userID string) (Offer, error)
	Reject(ctx context.Context, offerID, userID string) (Offer, error)
	Complete(ctx context.Context, offerID, userID string) (Offer, error)
	// RecordPayment stores the buyer's payment and completes the offer. When the offer update fails
	// the payment is still returned with a transient error; ReconcilePayments finishes it later.
	RecordPayment(ctx context.Context, in PaymentInput) (Payment, Offer, error)
	PaymentLink(ctx context.Context, offerID, userID string) (string, error)
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
	ReconcilePayments(ctx context.Context) (int, error)
	// ReconcileMessages re-posts the conversation messages of offers whose status moved on
	// without them.
	ReconcileMessages(ctx context.Context) (int, error)
}

// repostGrace keeps the sweep away from transitions that are still posting.
const repostGrace = time.Minute

type Options struct {
	UPIID   string
	AppName string
}

type offerService struct {
	repo     Repository
	convs    Conversations
	poster   Poster
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
	logger   *log.Logger
}

func NewService(repo Repository, convs Conversations, poster Poster, notifier notify.Notifier, opts Options) Service {
	return &offerService{
		repo:     repo,
		convs:    convs,
		poster:   poster,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.New(log.Writer(), "[offers] ", log.LstdFlags),
	}
}

func (s *offerService) Create(ctx context.Context, in CreateInput) (Offer, bool, error) {
	if _, err := uuid.Parse(in.ListingID); err != nil {
		return Offer{}, false, apperr.Invalid("listing_id must be a UUID")
	}
	price, quantity := roundCents(in.Price), roundCents(in.Quantity)
	if price <= 0 || quantity <= 0 {
		return Offer{}, false, apperr.Invalid("price and quantity must be positive")
	}
	if in.BuyerID == in.FarmerID {
		return Offer{}, false, apperr.Invalid("cannot make an offer to yourself")
	}

	conv, _, err := s.convs.Open(ctx, in.BuyerID, in.FarmerID, "")
	if err != nil {
		return Offer{}, false, err
	}

	note := strings.TrimSpace(in.Message)
	if note == "" {
		note = fmt.Sprintf("Offer for quantity %s", formatAmount(quantity))
	}
	o, created, err := s.repo.Insert(ctx, Offer{
		ID:             uuid.NewString(),
		ListingID:      in.ListingID,
		BuyerID:        in.BuyerID,
		FarmerID:       in.FarmerID,
		ConversationID: conv.ID,
		OfferPrice:     price,
		Quantity:       quantity,
		Message:        note,
		Status:         StatusPending,
		RequestID:      strings.TrimSpace(in.RequestID),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return Offer{}, false, err
	}
	if !created {
		if o.ListingID != in.ListingID || o.FarmerID != in.FarmerID {
			return Offer{}, false, apperr.Invalid("request_id already used for a different offer")
		}
		if err := s.mirror(ctx, o, nil); err != nil {
			s.logger.Printf("offer %s messages still missing: %v", o.ID, err)
		}
		return o, false, nil
	}

	if err := s.mirror(ctx, o, nil); err != nil {
		s.logger.Printf("offer %s created but offer message failed, left for reconciliation: %v", o.ID, err)
	}
	s.notify(ctx, o.FarmerID, "New offer", OfferText(o.OfferPrice, o.Quantity), o.ID)
	return o, true, nil
}

func (s *offerService) Get(ctx context.Context, offerID, userID string) (Offer, error) {
	o, err := s.repo.Get(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if !o.involves(userID) {
		s.logger.Printf("policy violation: user %s read offer %s", userID, offerID)
		return Offer{}, apperr.PermissionDenied("not a party to this offer")
	}
	return o, nil
}

func (s *offerService) ListForConversation(ctx context.Context, conversationID, userID string) ([]Offer, error) {
	if _, err := s.convs.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListByConversation(ctx, conversationID)
}

func (s *offerService) Accept(ctx context.Context, offerID, userID string) (Offer, error) {
	return s.farmerTransition(ctx, offerID, userID, StatusAccepted)
}

func (s *offerService) Reject(ctx context.Context, offerID, userID string) (Offer, error) {
	return s.farmerTransition(ctx, offerID, userID, StatusRejected)
}

// Complete is the manual settlement path; no payment record is required.
func (s *offerService) Complete(ctx context.Context, offerID, userID string) (Offer, error) {
	return s.farmerTransition(ctx, offerID, userID, StatusCompleted)
}

func (s *offerService) farmerTransition(ctx context.Context, offerID, userID, to string) (Offer, error) {
	o, err := s.repo.Get(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if !CanTransition(o.Status, to) {
		return Offer{}, apperr.InvalidTransition("offer", o.Status, to)
	}
	if userID != o.FarmerID {
		s.logger.Printf("policy violation: user %s tried to mark offer %s %s", userID, offerID, to)
		return Offer{}, apperr.PermissionDenied("only the farmer can " + verb(to) + " this offer")
	}
	return s.apply(ctx, o, o.FarmerID, to)
}

// apply performs the compare-and-set and mirrors it into the conversation.
func (s *offerService) apply(ctx context.Context, o Offer, actor, to string) (Offer, error) {
	updated, err := s.repo.UpdateStatus(ctx, o.ID, o.Status, to, actor, s.now())
	if err != nil {
		return Offer{}, err
	}
	if err := s.mirror(ctx, updated, nil); err != nil {
		s.logger.Printf("offer %s is %s but system message failed, left for reconciliation: %v", o.ID, to, err)
	}
	s.notify(ctx, updated.Counterparty(actor), transitionText(to), OfferText(updated.OfferPrice, updated.Quantity), updated.ID)
	return updated, nil
}

func (s *offerService) RecordPayment(ctx context.Context, in PaymentInput) (Payment, Offer, error) {
	o, err := s.repo.Get(ctx, in.OfferID)
	if err != nil {
		return Payment{}, Offer{}, err
	}
	if o.Status != StatusAccepted {
		return Payment{}, o, apperr.InvalidTransition("offer", o.Status, StatusCompleted)
	}
	if in.PayerID != o.BuyerID {
		s.logger.Printf("policy violation: user %s tried to pay for offer %s", in.PayerID, o.ID)
		return Payment{}, o, apperr.PermissionDenied("only the buyer can pay for this offer")
	}
	in.Amount = roundCents(in.Amount)
	if in.Amount == 0 {
		in.Amount = o.Total()
	}
	if in.Amount < 0 {
		return Payment{}, o, apperr.Invalid("amount must be positive")
	}

	p, created, err := s.repo.InsertPayment(ctx, Payment{
		OfferID:        o.ID,
		PayerID:        in.PayerID,
		Amount:         in.Amount,
		TransactionRef: strings.TrimSpace(in.TransactionRef),
		ScreenshotURL:  strings.TrimSpace(in.ScreenshotURL),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return Payment{}, o, err
	}
	if !created {
		s.logger.Printf("offer %s already has submitted payment %s, reusing it", o.ID, p.ID)
	}

	settled, err := s.settle(ctx, o, p)
	if err != nil {
		s.logger.Printf("payment %s recorded, offer %s left for reconciliation: %v", p.ID, o.ID, err)
		return p, o, err
	}
	return p, settled, nil
}

// settle completes an accepted offer for a recorded payment.
func (s *offerService) settle(ctx context.Context, o Offer, p Payment) (Offer, error) {
	updated, err := s.repo.UpdateStatus(ctx, o.ID, StatusAccepted, StatusCompleted, p.PayerID, s.now())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidTransition {
			return updated, err
		}
		return Offer{}, apperr.Transient("complete offer after payment", err)
	}

	if err := s.mirror(ctx, updated, &p); err != nil {
		s.logger.Printf("payment messages for offer %s failed, left for reconciliation: %v", o.ID, err)
	}
	s.notify(ctx, updated.FarmerID, "Payment received", paymentText(p), updated.ID)
	return updated, nil
}

func (s *offerService) PaymentLink(ctx context.Context, offerID, userID string) (string, error) {
	o, err := s.Get(ctx, offerID, userID)
	if err != nil {
		return "", err
	}
	if o.Status != StatusAccepted {
		return "", apperr.InvalidTransition("offer", o.Status, StatusCompleted)
	}
	short := o.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return UPILink(s.opts.UPIID, s.opts.AppName, o.Total(), "Offer "+short), nil
}

// ExpireStale expires pending offers older than ttl. The farmer is treated as the actor, so the
// buyer is the one notified.
func (s *offerService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.repo.ListPendingBefore(ctx, s.now().Add(-ttl), 200)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range stale {
		if _, err := s.apply(ctx, o, o.FarmerID, StatusExpired); err != nil {
			// accepted or rejected since it was listed
			if !apperr.Is(err, apperr.KindInvalidTransition) {
				s.logger.Printf("expire offer %s failed: %v", o.ID, err)
			}
			continue
		}
		n++
	}
	return n, nil
}

func (s *offerService) ReconcilePayments(ctx context.Context) (int, error) {
	pending, err := s.repo.UnsettledPayments(ctx, 200)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		o, err := s.repo.Get(ctx, p.OfferID)
		if err != nil {
			s.logger.Printf("reconcile payment %s: %v", p.ID, err)
			continue
		}
		if _, err := s.settle(ctx, o, p); err != nil {
			s.logger.Printf("reconcile payment %s for offer %s: %v", p.ID, o.ID, err)
			continue
		}
		s.logger.Printf("reconciled payment %s, offer %s completed", p.ID, o.ID)
		n++
	}
	return n, nil
}

func (s *offerService) ReconcileMessages(ctx context.Context) (int, error) {
	lagging, err := s.repo.ListUnposted(ctx, s.now().Add(-repostGrace), 200)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range lagging {
		if err := s.mirror(ctx, o, nil); err != nil {
			s.logger.Printf("repost messages for offer %s: %v", o.ID, err)
			continue
		}
		s.logger.Printf("reposted messages for offer %s (%s)", o.ID, o.Status)
		n++
	}
	return n, nil
}

// reached lists the statuses an offer passed through to arrive at status.
func reached(status string) []string {
	switch status {
	case StatusPending:
		return []string{StatusPending}
	case StatusAccepted:
		return []string{StatusPending, StatusAccepted}
	case StatusRejected, StatusExpired:
		return []string{StatusPending, status}
	case StatusCompleted:
		return []string{StatusPending, StatusAccepted, StatusCompleted}
	default:
		return nil
	}
}

// mirror posts the messages of every status the offer reached past its posted one, then records
// the offer as posted. Each step has a fixed request id and sender, so a step that is already
// stored is absorbed. p is the settling payment when the caller has it.
func (s *offerService) mirror(ctx context.Context, o Offer, p *Payment) error {
	posted := make(map[string]bool)
	for _, st := range reached(o.PostedStatus) {
		posted[st] = true
	}
	for _, st := range reached(o.Status) {
		if posted[st] {
			continue
		}
		if err := s.postStep(ctx, o, st, p); err != nil {
			return err
		}
	}
	return s.repo.MarkPosted(ctx, o.ID, o.Status)
}

func (s *offerService) postStep(ctx context.Context, o Offer, status string, p *Payment) error {
	switch status {
	case StatusPending:
		return s.post(ctx, o, o.BuyerID, messages.TypeOffer, "created", OfferText(o.OfferPrice, o.Quantity))
	case StatusCompleted:
		if o.ActorID != o.BuyerID {
			return s.post(ctx, o, o.FarmerID, messages.TypeSystem, status, transitionText(status))
		}
		if p == nil {
			found, err := s.repo.SubmittedPayment(ctx, o.ID)
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				return err
			}
			if err == nil {
				p = &found
			}
		}
		if p != nil {
			if err := s.post(ctx, o, o.BuyerID, messages.TypePayment, "payment", paymentText(*p)); err != nil {
				return err
			}
		}
		return s.post(ctx, o, o.BuyerID, messages.TypeSystem, status, transitionText(status))
	default:
		// accept, reject and expiry are posted as the farmer
		return s.post(ctx, o, o.FarmerID, messages.TypeSystem, status, transitionText(status))
	}
}

// post appends a message for the offer. The request id is derived from the offer and step so a
// repeated post is absorbed by the message store.
func (s *offerService) post(ctx context.Context, o Offer, sender, messageType, step, content string) error {
	_, _, err := s.poster.Send(ctx, messages.SendInput{
		ConversationID: o.ConversationID,
		SenderID:       sender,
		RequestID:      messages.ReservedRequestPrefix + o.ID + ":" + step,
		Content:        content,
		MessageType:    messageType,
		OfferID:        o.ID,
	})
	return err
}

func (s *offerService) notify(ctx context.Context, userID, title, body, offerID string) {
	err := s.notifier.Notify(ctx, notify.Notification{
		UserID:     userID,
		Title:      title,
		Body:       body,
		EntityType: notify.EntityOffer,
		EntityID:   offerID,
	})
	if err != nil {
		s.logger.Printf("notify %s about offer %s failed: %v", userID, offerID, err)
	}
}

func verb(status string) string {
	switch status {
	case StatusAccepted:
		return "accept"
	case StatusRejected:
		return "reject"
	case StatusCompleted:
		return "complete"
	default:
		return "update"
	}
}
