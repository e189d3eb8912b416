package offers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/messages"
	"kisanmandi/pkg/notify"
	"kisanmandi/pkg/presence"
	"kisanmandi/pkg/profiles"
	"kisanmandi/pkg/realtime"
)

const (
	farmerID  = "11111111-1111-4111-8111-111111111111"
	buyerID   = "22222222-2222-4222-8222-222222222222"
	listingID = "44444444-4444-4444-8444-444444444444"
)

type offline struct{}

func (offline) IsOnline(context.Context, string) (bool, error) { return false, nil }

func (offline) Lookup(_ context.Context, ids []string) (map[string]presence.Status, error) {
	out := make(map[string]presence.Status, len(ids))
	for _, id := range ids {
		out[id] = presence.Status{UserID: id}
	}
	return out, nil
}

type inbox struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (i *inbox) Notify(_ context.Context, n notify.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, n)
	return nil
}

func (i *inbox) notesFor(userID string) []notify.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]notify.Notification, 0)
	for _, n := range i.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	repo  *MemoryRepository
	store *messages.MemoryStore
	msgs  messages.Service
	convs conversations.Service
	inbox *inbox
	svc   Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := profiles.Static{
		farmerID: {ID: farmerID, DisplayName: "Ramesh", Role: profiles.RoleFarmer},
		buyerID:  {ID: buyerID, DisplayName: "Sunita", Role: profiles.RoleBuyer},
	}
	convs := conversations.NewService(conversations.NewMemoryRepository(), dir, offline{}, true)
	store := messages.NewMemoryStore()
	msgs := messages.NewService(store, convs, offline{}, realtime.NopPublisher{}, notify.Nop{}, messages.Options{})
	f := &fixture{repo: NewMemoryRepository(), store: store, msgs: msgs, convs: convs, inbox: &inbox{}}
	f.svc = NewService(f.repo, convs, msgs, f.inbox, Options{UPIID: "merchantupi@bank", AppName: "KisanMandi"})
	return f
}

func (f *fixture) history(t *testing.T, conversationID string) []messages.Message {
	t.Helper()
	items, err := f.msgs.History(context.Background(), conversationID, farmerID, 100, nil)
	require.NoError(t, err)
	return items
}

func (f *fixture) create(t *testing.T) Offer {
	t.Helper()
	o, created, err := f.svc.Create(context.Background(), CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 100, Quantity: 5})
	require.NoError(t, err)
	require.True(t, created)
	return o
}

// later moves the service clock past the repost grace.
func (f *fixture) later() {
	svc := f.svc.(*offerService)
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * repostGrace) }
}

func contents(items []messages.Message) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.Content)
	}
	return out
}

func TestEndToEnd_OfferAcceptPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.create(t)
	require.Equal(t, StatusPending, o.Status)
	require.NotEmpty(t, o.ConversationID)

	history := f.history(t, o.ConversationID)
	require.Len(t, history, 1)
	require.Equal(t, messages.TypeOffer, history[0].MessageType)
	require.Equal(t, "Offer: Rs 100 | Qty: 5", history[0].Content)
	require.Len(t, f.inbox.notesFor(farmerID), 1)

	// both sides see the same conversation
	list, err := f.convs.List(ctx, farmerID, conversations.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, o.ConversationID, list[0].ID)

	accepted, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
	history = f.history(t, o.ConversationID)
	require.Len(t, history, 2)
	require.Equal(t, messages.TypeSystem, history[1].MessageType)
	require.Equal(t, "Offer accepted", history[1].Content)
	buyerNotes := f.inbox.notesFor(buyerID)
	require.Len(t, buyerNotes, 1)
	require.Equal(t, notify.EntityOffer, buyerNotes[0].EntityType)

	p, completed, err := f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID, TransactionRef: "UPI123"})
	require.NoError(t, err)
	require.Equal(t, PaymentSubmitted, p.Status)
	require.Equal(t, 500.0, p.Amount)
	require.Equal(t, StatusCompleted, completed.Status)

	history = f.history(t, o.ConversationID)
	require.Len(t, history, 4)
	require.Equal(t, messages.TypePayment, history[2].MessageType)
	require.Contains(t, history[2].Content, "UPI123")
	require.Equal(t, "Offer completed", history[3].Content)

	// one for the offer, one for the payment
	require.Len(t, f.inbox.notesFor(farmerID), 2)
	require.Len(t, f.inbox.notesFor(buyerID), 1)
}

func TestGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.Accept(ctx, o.ID, buyerID)
	require.True(t, apperr.Is(err, apperr.KindPermissionDenied), "buyer cannot accept")

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID})
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition), "cannot pay a pending offer")
	require.Equal(t, StatusPending, apperr.CurrentState(err))

	_, err = f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, o.ID, buyerID)
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition), "re-accept is a transition error before a role error")
	require.Equal(t, StatusAccepted, apperr.CurrentState(err))

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: farmerID})
	require.True(t, apperr.Is(err, apperr.KindPermissionDenied), "farmer cannot pay")

	_, err = f.svc.Reject(ctx, o.ID, farmerID)
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	_, err = f.svc.Accept(ctx, "missing", farmerID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	require.Empty(t, f.repo.Payments(o.ID))
}

func TestReject_NotifiesBuyerOnce(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	rejected, err := f.svc.Reject(context.Background(), o.ID, farmerID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Len(t, f.inbox.notesFor(buyerID), 1)
	require.Equal(t, "Offer rejected", f.history(t, o.ConversationID)[1].Content)
}

func TestComplete_ManualSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.Complete(ctx, o.ID, farmerID)
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition), "pending cannot complete")

	_, err = f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, o.ID, farmerID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.Empty(t, f.repo.Payments(o.ID))
}

func TestRecordPayment_FailedOfferUpdateIsReconciled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)

	f.repo.FailNextUpdate(errors.New("connection reset"))
	p, _, err := f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID, TransactionRef: "UPI123"})
	require.True(t, apperr.IsTransient(err))
	require.NotEmpty(t, p.ID, "payment must survive the failed update")

	// a retry from the client reuses the same submitted payment
	again, _, err := f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID, TransactionRef: "UPI123"})
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
	require.Len(t, f.repo.Payments(o.ID), 1)

	n, err := f.svc.ReconcilePayments(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "already settled by the retry")
}

func TestReconcilePayments_CompletesStuckOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)

	f.repo.FailNextUpdate(errors.New("connection reset"))
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID})
	require.Error(t, err)

	n, err := f.svc.ReconcilePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, o.ID, buyerID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Len(t, f.inbox.notesFor(farmerID), 2)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.svc.(*offerService)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	old := f.create(t)
	svc.now = func() time.Time { return created.Add(71 * time.Hour) }
	fresh := f.create(t)

	svc.now = func() time.Time { return created.Add(73 * time.Hour) }
	n, err := f.svc.ExpireStale(ctx, 72*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, _ := f.svc.Get(ctx, old.ID, farmerID)
	require.Equal(t, StatusExpired, got.Status)
	got, _ = f.svc.Get(ctx, fresh.ID, farmerID)
	require.Equal(t, StatusPending, got.Status)
	require.Len(t, f.inbox.notesFor(buyerID), 1)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, CreateInput{ListingID: "x", BuyerID: buyerID, FarmerID: farmerID, Price: 1, Quantity: 1})
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	_, _, err = f.svc.Create(ctx, CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 0, Quantity: 1})
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	_, _, err = f.svc.Create(ctx, CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 0.004, Quantity: 1})
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument), "rounds to zero")
	_, _, err = f.svc.Create(ctx, CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: buyerID, Price: 1, Quantity: 1})
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestCreate_RequestIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 100, Quantity: 5, RequestID: "req-1"}

	first, created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	list, err := f.svc.ListForConversation(ctx, first.ConversationID, buyerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, f.history(t, first.ConversationID), 1)
	require.Len(t, f.inbox.notesFor(farmerID), 1)

	other := in
	other.ListingID = "55555555-5555-4555-8555-555555555555"
	_, _, err = f.svc.Create(ctx, other)
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestCreate_FailedOfferMessageIsReposted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 100, Quantity: 5, RequestID: "req-1"}

	f.store.FailNext(apperr.Transient("insert message", errors.New("connection reset")), false)
	o, created, err := f.svc.Create(ctx, in)
	require.NoError(t, err, "the offer exists even though its message is missing")
	require.True(t, created)
	require.Empty(t, f.history(t, o.ConversationID))

	// too recent for the sweep
	n, err := f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.later()
	n, err = f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"Offer: Rs 100 | Qty: 5"}, contents(f.history(t, o.ConversationID)))

	// a client retry does not make a second offer or message
	again, created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, o.ID, again.ID)
	require.Len(t, f.history(t, o.ConversationID), 1)

	n, err = f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAccept_FailedSystemMessageIsReposted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	f.store.FailNext(apperr.Transient("insert message", errors.New("connection reset")), false)
	accepted, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
	require.Len(t, f.history(t, o.ConversationID), 1)

	// the status already moved, so the farmer cannot repeat the accept to get the message
	_, err = f.svc.Accept(ctx, o.ID, farmerID)
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	f.later()
	n, err := f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	history := f.history(t, o.ConversationID)
	require.Equal(t, []string{"Offer: Rs 100 | Qty: 5", "Offer accepted"}, contents(history))
	require.Equal(t, farmerID, history[1].SenderID)

	n, err = f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, f.history(t, o.ConversationID), 2)
}

func TestSettle_FailedPaymentMessageIsReposted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)

	f.store.FailNext(apperr.Transient("insert message", errors.New("connection reset")), false)
	_, completed, err := f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID, TransactionRef: "UPI123"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Len(t, f.history(t, o.ConversationID), 2)

	f.later()
	n, err := f.svc.ReconcileMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	history := f.history(t, o.ConversationID)
	require.Len(t, history, 4)
	require.Equal(t, messages.TypePayment, history[2].MessageType)
	require.Contains(t, history[2].Content, "UPI123")
	require.Equal(t, "Offer completed", history[3].Content)
	require.Equal(t, buyerID, history[3].SenderID)
}

func TestOfferRequestIDsAreReservedForTheWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)

	// a buyer text cannot take the id the payment message will use
	_, _, err = f.msgs.Send(ctx, messages.SendInput{
		ConversationID: o.ConversationID, SenderID: buyerID,
		RequestID: messages.ReservedRequestPrefix + o.ID + ":payment", Content: "paid already",
	})
	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID})
	require.NoError(t, err)
	history := f.history(t, o.ConversationID)
	require.Len(t, history, 4)
	require.Equal(t, messages.TypePayment, history[2].MessageType)
}

func TestAmountsAreRoundedToPaise(t *testing.T) {
	require.Equal(t, 0.3, Offer{OfferPrice: 0.1, Quantity: 3}.Total())
	require.Equal(t, 59.97, Offer{OfferPrice: 19.99, Quantity: 3}.Total())

	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, CreateInput{ListingID: listingID, BuyerID: buyerID, FarmerID: farmerID, Price: 19.999, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 20.0, o.OfferPrice)
	require.Equal(t, 60.0, o.Total())

	_, err = f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)
	p, _, err := f.svc.RecordPayment(ctx, PaymentInput{OfferID: o.ID, PayerID: buyerID, Amount: 60.004})
	require.NoError(t, err)
	require.Equal(t, 60.0, p.Amount)
}

func TestPaymentLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.PaymentLink(ctx, o.ID, buyerID)
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	_, err = f.svc.Accept(ctx, o.ID, farmerID)
	require.NoError(t, err)
	link, err := f.svc.PaymentLink(ctx, o.ID, buyerID)
	require.NoError(t, err)
	require.Equal(t, "upi://pay?pa=merchantupi%40bank&pn=KisanMandi&am=500.00&cu=INR&tn=Offer%20"+o.ID[:8], link)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusAccepted))
	require.True(t, CanTransition(StatusAccepted, StatusCompleted))
	require.False(t, CanTransition(StatusAccepted, StatusAccepted))
	require.False(t, CanTransition(StatusPending, StatusCompleted))
	require.False(t, CanTransition(StatusCompleted, StatusPending))
	require.False(t, CanTransition(StatusRejected, StatusAccepted))
}
