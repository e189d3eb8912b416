package notify

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/response"
)

type Handler struct {
	inbox Inbox
}

func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/notifications", h.list)
	router.GET("/notifications/unread-count", h.unreadCount)
	router.POST("/notifications/:id/read", h.markRead)
}

// @Summary      List my notifications
// @Tags         notifications
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        limit query int false "Max items" default(20)
// @Success      200 {object} response.APIResponse{data=[]Notification}
// @Failure      503 {object} response.APIResponse
// @Router       /notifications [get]
func (h *Handler) list(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := h.inbox.List(c.Request.Context(), identity.UserID(c), limit)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "notifications listed", items)
}

// @Summary      Count unread notifications
// @Tags         notifications
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Success      200 {object} response.APIResponse
// @Router       /notifications/unread-count [get]
func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.inbox.UnreadCount(c.Request.Context(), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "unread count", gin.H{"count": count})
}

// @Summary      Mark a notification read
// @Tags         notifications
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Notification ID"
// @Success      200 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /notifications/{id}/read [post]
func (h *Handler) markRead(c *gin.Context) {
	if err := h.inbox.MarkRead(c.Request.Context(), identity.UserID(c), c.Param("id")); err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "notification marked read", nil)
}
