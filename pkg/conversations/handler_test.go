package conversations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/response"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Open(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	args := m.Called(ctx, requester, other, subject)
	conv, _ := args.Get(0).(Conversation)
	return conv, args.Bool(1), args.Error(2)
}

func (m *mockService) List(ctx context.Context, userID string, filter Filter) ([]Summary, error) {
	args := m.Called(ctx, userID, filter)
	list, _ := args.Get(0).([]Summary)
	return list, args.Error(1)
}

func (m *mockService) Get(ctx context.Context, conversationID, userID string) (Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	conv, _ := args.Get(0).(Conversation)
	return conv, args.Error(1)
}

func (m *mockService) Authorize(ctx context.Context, conversationID, userID string) ([]Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	parts, _ := args.Get(0).([]Participant)
	return parts, args.Error(1)
}

func (m *mockService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockService) Hide(ctx context.Context, conversationID, userID string) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *mockService) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return m.Called(ctx, conversationID, userID, pinned).Error(0)
}

func setupRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/", identity.Require()))
	return r
}

func perform(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.HeaderUserID, buyerID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Open_CreatedVsFound(t *testing.T) {
	svc := new(mockService)
	svc.On("Open", mock.Anything, buyerID, farmerID, "").Return(Conversation{ID: "c1"}, true, nil).Once()
	svc.On("Open", mock.Anything, buyerID, farmerID, "").Return(Conversation{ID: "c1"}, false, nil).Once()
	r := setupRouter(svc)

	w := perform(r, http.MethodPost, "/conversations", `{"user_id":"`+farmerID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = perform(r, http.MethodPost, "/conversations", `{"user_id":"`+farmerID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestHandler_Open_InvalidPayload(t *testing.T) {
	w := perform(setupRouter(new(mockService)), http.MethodPost, "/conversations", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_List_RejectsUnknownFilter(t *testing.T) {
	w := perform(setupRouter(new(mockService)), http.MethodGet, "/conversations?filter=archived", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_List(t *testing.T) {
	svc := new(mockService)
	svc.On("List", mock.Anything, buyerID, Filter{Only: FilterUnread, Query: "onion"}).
		Return([]Summary{{ID: "c1", UnreadCount: 1}}, nil)

	w := perform(setupRouter(svc), http.MethodGet, "/conversations?filter=unread&q=onion", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, int64(1), body.Data[0].UnreadCount)
}

func TestHandler_Hide_PermissionDenied(t *testing.T) {
	svc := new(mockService)
	svc.On("Hide", mock.Anything, "c1", buyerID).Return(apperr.PermissionDenied("not a participant of this conversation"))

	w := perform(setupRouter(svc), http.MethodPost, "/conversations/c1/hide", "")

	require.Equal(t, http.StatusForbidden, w.Code)
	var body response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(apperr.KindPermissionDenied), body.Code)
}

func TestHandler_SetPinned(t *testing.T) {
	svc := new(mockService)
	svc.On("SetPinned", mock.Anything, "c1", buyerID, true).Return(nil)

	w := perform(setupRouter(svc), http.MethodPut, "/conversations/c1/pin", `{"pinned":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
