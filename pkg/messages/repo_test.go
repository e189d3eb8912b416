package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/profiles"
	"kisanmandi/pkg/testhelpers"
)

func TestPostgresMessageStore_InsertDedupAndTouch(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	convRepo := conversations.NewPostgresRepository(pool)
	conv, _, err := convRepo.FindOrCreate(ctx, buyer, farmer, "")
	require.NoError(t, err)
	require.NoError(t, convRepo.Hide(ctx, conv.ID, farmer))

	store := NewPostgresMessageStore(pool)
	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)

	m, created, err := store.Insert(ctx, Message{ConversationID: conv.ID, SenderID: buyer, RequestID: "r1", Content: "Onions at Rs 20/kg?", MessageType: TypeText, CreatedAt: at})
	require.NoError(t, err)
	require.True(t, created)

	dup, created, err := store.Insert(ctx, Message{ConversationID: conv.ID, SenderID: buyer, RequestID: "r1", Content: "Onions at Rs 20/kg?", MessageType: TypeText})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, m.ID, dup.ID)

	// an older message must not rewind the preview or activity time
	_, _, err = store.Insert(ctx, Message{ConversationID: conv.ID, SenderID: farmer, RequestID: "r2", Content: "late", MessageType: TypeText, CreatedAt: at.Add(-time.Hour)})
	require.NoError(t, err)

	got, err := convRepo.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Onions at Rs 20/kg?", got.LastMessage)
	require.WithinDuration(t, at, got.LastActivityAt, time.Millisecond)

	// the farmer had hidden it; the new message resurfaced it
	list, err := convRepo.ListFor(ctx, farmer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(1), list[0].UnreadCount)
}

func TestPostgresMessageStore_ReceiptsAndUnread(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	testhelpers.CleanTables(t, pool)
	farmer := testhelpers.CreateTestProfile(t, pool, profiles.RoleFarmer)
	buyer := testhelpers.CreateTestProfile(t, pool, profiles.RoleBuyer)

	ctx := context.Background()
	convRepo := conversations.NewPostgresRepository(pool)
	conv, _, err := convRepo.FindOrCreate(ctx, buyer, farmer, "")
	require.NoError(t, err)

	store := NewPostgresMessageStore(pool)
	var ids []string
	for _, req := range []string{"a", "b"} {
		m, _, err := store.Insert(ctx, Message{ConversationID: conv.ID, SenderID: buyer, RequestID: req, Content: req, MessageType: TypeText})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	now := time.Now().UTC()
	updated, err := store.MarkDelivered(ctx, conv.ID, buyer, ids, now)
	require.NoError(t, err)
	require.Empty(t, updated, "sender cannot ack own messages")

	updated, err = store.MarkSeen(ctx, conv.ID, farmer, ids[:1], now)
	require.NoError(t, err)
	require.Equal(t, ids[:1], updated)

	updated, err = store.MarkConversationRead(ctx, conv.ID, farmer, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, updated, 2)

	list, err := convRepo.ListFor(ctx, farmer)
	require.NoError(t, err)
	require.Equal(t, int64(0), list[0].UnreadCount)

	history, err := store.History(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		require.Equal(t, StatusRead, m.Status)
		require.False(t, m.DeliveredAt.After(*m.SeenAt))
		require.False(t, m.SeenAt.After(*m.ReadAt))
	}

	_, _, err = store.Insert(ctx, Message{ConversationID: conv.ID, SenderID: buyer, RequestID: "c", Content: "c", MessageType: TypeText})
	require.NoError(t, err)
	list, err = convRepo.ListFor(ctx, farmer)
	require.NoError(t, err)
	require.Equal(t, int64(1), list[0].UnreadCount)
}
