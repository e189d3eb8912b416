package typing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/response"
)

type Handler struct {
	signaler *Signaler
}

func NewHandler(signaler *Signaler) *Handler {
	return &Handler{signaler: signaler}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/conversations/:id/typing", h.send)
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// @Summary      Broadcast typing state
// @Tags         typing
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        request body typingRequest true "Typing flag"
// @Success      202 {object} response.APIResponse{data=Signal}
// @Failure      403 {object} response.APIResponse
// @Router       /conversations/{id}/typing [post]
func (h *Handler) send(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	sig, err := h.signaler.Send(c.Request.Context(), c.Param("id"), identity.UserID(c), req.IsTyping)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusAccepted, true, "typing sent", sig)
}
