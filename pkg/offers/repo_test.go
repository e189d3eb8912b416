package offers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/profiles"
	"kisanmandi/pkg/testhelpers"
)

func TestPostgresRepository_StatusCompareAndSet(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	conv, _, err := conversations.NewPostgresRepository(pool).FindOrCreate(ctx, buyer, farmer, "")
	require.NoError(t, err)

	repo := NewPostgresRepository(pool)
	o, created, err := repo.Insert(ctx, Offer{
		ListingID: uuid.NewString(), BuyerID: buyer, FarmerID: farmer, ConversationID: conv.ID,
		OfferPrice: 100, Quantity: 5, Message: "fresh onions", Status: StatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 100.0, o.OfferPrice)

	updated, err := repo.UpdateStatus(ctx, o.ID, StatusPending, StatusAccepted, farmer, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, updated.Status)
	require.Equal(t, farmer, updated.ActorID)

	// a second writer that still believes the offer is pending loses
	_, err = repo.UpdateStatus(ctx, o.ID, StatusPending, StatusRejected, farmer, time.Now().UTC())
	require.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	require.Equal(t, StatusAccepted, apperr.CurrentState(err))

	list, err := repo.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = repo.Get(ctx, "not-a-uuid")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPostgresRepository_SingleSubmittedPayment(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	conv, _, err := conversations.NewPostgresRepository(pool).FindOrCreate(ctx, buyer, farmer, "")
	require.NoError(t, err)
	offerID := testhelpers.CreateTestOffer(t, pool, buyer, farmer, conv.ID)

	repo := NewPostgresRepository(pool)
	_, err = repo.UpdateStatus(ctx, offerID, StatusPending, StatusAccepted, farmer, time.Now().UTC())
	require.NoError(t, err)

	first, created, err := repo.InsertPayment(ctx, Payment{OfferID: offerID, PayerID: buyer, Amount: 500, TransactionRef: "UPI123", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "UPI123", first.TransactionRef)

	second, created, err := repo.InsertPayment(ctx, Payment{OfferID: offerID, PayerID: buyer, Amount: 500, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	unsettled, err := repo.UnsettledPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)

	got, err := repo.SubmittedPayment(ctx, offerID)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	_, err = repo.UpdateStatus(ctx, offerID, StatusAccepted, StatusCompleted, buyer, time.Now().UTC())
	require.NoError(t, err)
	unsettled, err = repo.UnsettledPayments(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, unsettled)
}

func TestPostgresRepository_ListPendingBefore(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	repo := NewPostgresRepository(pool)
	now := time.Now().UTC()
	for _, age := range []time.Duration{100 * time.Hour, time.Hour} {
		_, _, err := repo.Insert(ctx, Offer{
			ListingID: uuid.NewString(), BuyerID: buyer, FarmerID: farmer,
			OfferPrice: 20, Quantity: 1, Status: StatusPending, CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	stale, err := repo.ListPendingBefore(ctx, now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Empty(t, stale[0].ConversationID)
}

func TestPostgresRepository_RequestIDAndPostedStatus(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	repo := NewPostgresRepository(pool)
	now := time.Now().UTC()
	in := Offer{
		ListingID: uuid.NewString(), BuyerID: buyer, FarmerID: farmer, RequestID: "req-1",
		OfferPrice: 20, Quantity: 1, Status: StatusPending, CreatedAt: now.Add(-time.Hour),
	}
	first, created, err := repo.Insert(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	in.ID = ""
	again, created, err := repo.Insert(ctx, in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	lagging, err := repo.ListUnposted(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, lagging, 1)

	// marking a status the offer has left does nothing
	require.NoError(t, repo.MarkPosted(ctx, first.ID, StatusAccepted))
	lagging, err = repo.ListUnposted(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, lagging, 1)

	require.NoError(t, repo.MarkPosted(ctx, first.ID, StatusPending))
	lagging, err = repo.ListUnposted(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, lagging)

	_, err = repo.SubmittedPayment(ctx, first.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
