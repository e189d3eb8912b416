package messages

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/response"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/conversations/:id/messages", h.history)
	router.POST("/conversations/:id/messages", h.send)
	router.POST("/conversations/:id/read", h.markRead)
	router.POST("/conversations/:id/delivered", h.markDelivered)
	router.POST("/conversations/:id/seen", h.markSeen)
}

type sendRequest struct {
	Content   string `json:"content" binding:"required"`
	RequestID string `json:"request_id"`
}

type receiptRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

// @Summary      Send a message
// @Description  Retrying with the same request_id returns the stored message instead of a duplicate.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        request body sendRequest true "Message"
// @Success      201 {object} response.APIResponse{data=Message}
// @Success      200 {object} response.APIResponse{data=Message}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      503 {object} response.APIResponse
// @Router       /conversations/{id}/messages [post]
func (h *Handler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	m, created, err := h.service.Send(c.Request.Context(), SendInput{
		ConversationID: c.Param("id"),
		SenderID:       identity.UserID(c),
		RequestID:      req.RequestID,
		Content:        req.Content,
		MessageType:    TypeText,
	})
	if err != nil {
		response.SendError(c, err)
		return
	}
	if !created {
		response.SendAPIResponse(c, http.StatusOK, true, "message already sent", m)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "message sent", m)
}

// @Summary      Conversation history
// @Tags         messages
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        limit query int false "Max messages (<=100)" default(50)
// @Param        before query string false "RFC3339 cursor; only older messages"
// @Success      200 {object} response.APIResponse{data=[]Message}
// @Failure      403 {object} response.APIResponse
// @Router       /conversations/{id}/messages [get]
func (h *Handler) history(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "before must be RFC3339", nil)
			return
		}
		before = &t
	}

	items, err := h.service.History(c.Request.Context(), c.Param("id"), identity.UserID(c), limit, before)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages fetched", items)
}

// @Summary      Mark conversation read
// @Tags         messages
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Success      200 {object} response.APIResponse{data=Receipt}
// @Router       /conversations/{id}/read [post]
func (h *Handler) markRead(c *gin.Context) {
	receipt, err := h.service.MarkConversationRead(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation marked read", receipt)
}

// @Summary      Acknowledge delivery
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        request body receiptRequest true "Message IDs"
// @Success      200 {object} response.APIResponse{data=Receipt}
// @Router       /conversations/{id}/delivered [post]
func (h *Handler) markDelivered(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "message_ids required", nil)
		return
	}
	receipt, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"), identity.UserID(c), req.MessageIDs)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages marked delivered", receipt)
}

// @Summary      Acknowledge messages seen
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        request body receiptRequest true "Message IDs"
// @Success      200 {object} response.APIResponse{data=Receipt}
// @Router       /conversations/{id}/seen [post]
func (h *Handler) markSeen(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "message_ids required", nil)
		return
	}
	receipt, err := h.service.MarkSeen(c.Request.Context(), c.Param("id"), identity.UserID(c), req.MessageIDs)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages marked seen", receipt)
}
