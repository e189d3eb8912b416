package conversations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/presence"
	"kisanmandi/pkg/profiles"
)

const (
	farmerID = "11111111-1111-4111-8111-111111111111"
	buyerID  = "22222222-2222-4222-8222-222222222222"
	traderID = "33333333-3333-4333-8333-333333333333"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) FindOrCreate(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	args := m.Called(ctx, requester, other, subject)
	conv, _ := args.Get(0).(Conversation)
	return conv, args.Bool(1), args.Error(2)
}

func (m *mockRepository) FindOrCreateByScan(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	args := m.Called(ctx, requester, other, subject)
	conv, _ := args.Get(0).(Conversation)
	return conv, args.Bool(1), args.Error(2)
}

func (m *mockRepository) ListFor(ctx context.Context, userID string) ([]Summary, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]Summary)
	return list, args.Error(1)
}

func (m *mockRepository) Get(ctx context.Context, conversationID string) (Conversation, error) {
	args := m.Called(ctx, conversationID)
	conv, _ := args.Get(0).(Conversation)
	return conv, args.Error(1)
}

func (m *mockRepository) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	args := m.Called(ctx, conversationID)
	parts, _ := args.Get(0).([]Participant)
	return parts, args.Error(1)
}

func (m *mockRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) Hide(ctx context.Context, conversationID, userID string) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *mockRepository) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return m.Called(ctx, conversationID, userID, pinned).Error(0)
}

type staticPresence map[string]presence.Status

func (s staticPresence) Lookup(_ context.Context, ids []string) (map[string]presence.Status, error) {
	out := make(map[string]presence.Status)
	for _, id := range ids {
		out[id] = s[id]
	}
	return out, nil
}

var directory = profiles.Static{
	farmerID: {ID: farmerID, DisplayName: "Ramesh Patil", Role: profiles.RoleFarmer, District: "Nashik", State: "Maharashtra"},
	buyerID:  {ID: buyerID, DisplayName: "Sunita Traders", Role: profiles.RoleBuyer},
	traderID: {ID: traderID, DisplayName: "Gopal", Role: profiles.RoleTrader, State: "Gujarat"},
}

func TestKey_IsOrderIndependent(t *testing.T) {
	require.Equal(t, Key(farmerID, buyerID), Key(buyerID, farmerID))
	require.NotEqual(t, Key(farmerID, buyerID), Key(farmerID, traderID))
}

func TestSortSummaries(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	list := []Summary{
		{ID: "old", LastActivityAt: base},
		{ID: "pinned-old", LastActivityAt: base.Add(-time.Hour), IsPinned: true},
		{ID: "new", LastActivityAt: base.Add(time.Hour)},
		{ID: "pinned-new", LastActivityAt: base.Add(2 * time.Hour), IsPinned: true},
	}

	SortSummaries(list)

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"pinned-new", "pinned-old", "new", "old"}, ids)
}

func TestService_Open_RejectsSelf(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, directory, staticPresence{}, true)

	_, _, err := svc.Open(context.Background(), farmerID, farmerID, "")

	require.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	repo.AssertExpectations(t)
}

func TestService_Open_UnknownUser(t *testing.T) {
	svc := NewService(new(mockRepository), directory, staticPresence{}, true)

	_, _, err := svc.Open(context.Background(), farmerID, "44444444-4444-4444-8444-444444444444", "")

	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestService_Open_SelectsPath(t *testing.T) {
	ctx := context.Background()

	upsertRepo := new(mockRepository)
	upsertRepo.On("FindOrCreate", ctx, buyerID, farmerID, "Onions").Return(Conversation{ID: "c1"}, true, nil)
	conv, created, err := NewService(upsertRepo, directory, staticPresence{}, true).Open(ctx, buyerID, farmerID, " Onions ")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "c1", conv.ID)
	upsertRepo.AssertExpectations(t)

	scanRepo := new(mockRepository)
	scanRepo.On("FindOrCreateByScan", ctx, buyerID, farmerID, "").Return(Conversation{ID: "c1"}, false, nil)
	_, created, err = NewService(scanRepo, directory, staticPresence{}, false).Open(ctx, buyerID, farmerID, "")
	require.NoError(t, err)
	require.False(t, created)
	scanRepo.AssertExpectations(t)
}

func TestService_List_DecoratesAndFilters(t *testing.T) {
	now := time.Now().UTC()
	repo := new(mockRepository)
	repo.On("ListFor", mock.Anything, buyerID).Return([]Summary{
		{ID: "c-farmer", PeerID: farmerID, LastActivityAt: now, UnreadCount: 2, LastMessage: "Rs 100 ok?"},
		{ID: "c-trader", PeerID: traderID, LastActivityAt: now.Add(-time.Hour), IsPinned: true},
	}, nil)
	pres := staticPresence{farmerID: {UserID: farmerID, IsOnline: true, LastSeenAt: &now}}
	svc := NewService(repo, directory, pres, true)
	ctx := context.Background()

	all, err := svc.List(ctx, buyerID, Filter{Only: FilterAll})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "c-trader", all[0].ID, "pinned first")
	require.Equal(t, "Ramesh Patil", all[1].Title)
	require.True(t, all[1].Peer.IsOnline)
	require.Equal(t, "Nashik, Maharashtra", all[1].Peer.Location)
	require.False(t, all[0].Peer.IsOnline)

	unread, err := svc.List(ctx, buyerID, Filter{Only: FilterUnread})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, "c-farmer", unread[0].ID)

	pinned, err := svc.List(ctx, buyerID, Filter{Only: FilterPinned})
	require.NoError(t, err)
	require.Len(t, pinned, 1)

	search, err := svc.List(ctx, buyerID, Filter{Query: "gujarat"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	require.Equal(t, "c-trader", search[0].ID)
}

func TestService_Hide_RequiresParticipant(t *testing.T) {
	repo := new(mockRepository)
	repo.On("Get", mock.Anything, "c1").Return(Conversation{ID: "c1"}, nil)
	repo.On("Participants", mock.Anything, "c1").Return([]Participant{{UserID: farmerID}, {UserID: buyerID}}, nil)
	svc := NewService(repo, directory, staticPresence{}, true)

	err := svc.Hide(context.Background(), "c1", traderID)
	require.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	repo.On("Hide", mock.Anything, "c1", buyerID).Return(nil)
	require.NoError(t, svc.Hide(context.Background(), "c1", buyerID))
	repo.AssertCalled(t, "Hide", mock.Anything, "c1", buyerID)
	repo.AssertNotCalled(t, "Hide", mock.Anything, "c1", traderID)
}

func TestPeerOf(t *testing.T) {
	peer, ok := PeerOf([]Participant{{UserID: farmerID}, {UserID: buyerID}}, buyerID)
	require.True(t, ok)
	require.Equal(t, farmerID, peer)
}
