package conversations

import (
	"net/http"

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
	router.POST("/conversations", h.open)
	router.GET("/conversations", h.list)
	router.GET("/conversations/:id", h.get)
	router.POST("/conversations/:id/hide", h.hide)
	router.PUT("/conversations/:id/pin", h.setPinned)
}

type openRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Subject string `json:"subject"`
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// @Summary      Open a conversation
// @Description  Returns the existing conversation with the user or creates it.
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        request body openRequest true "Other participant"
// @Success      200 {object} response.APIResponse{data=Conversation}
// @Success      201 {object} response.APIResponse{data=Conversation}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /conversations [post]
func (h *Handler) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	conv, created, err := h.service.Open(c.Request.Context(), identity.UserID(c), req.UserID, req.Subject)
	if err != nil {
		response.SendError(c, err)
		return
	}
	if created {
		response.SendAPIResponse(c, http.StatusCreated, true, "conversation created", conv)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation found", conv)
}

// @Summary      List my conversations
// @Tags         conversations
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        filter query string false "all, unread or pinned" default(all)
// @Param        q query string false "Search name, subject, preview or location"
// @Success      200 {object} response.APIResponse{data=[]Summary}
// @Router       /conversations [get]
func (h *Handler) list(c *gin.Context) {
	filter := Filter{Only: c.DefaultQuery("filter", FilterAll), Query: c.Query("q")}
	switch filter.Only {
	case FilterAll, FilterUnread, FilterPinned:
	default:
		response.SendAPIResponse(c, http.StatusBadRequest, false, "filter must be all, unread or pinned", nil)
		return
	}

	items, err := h.service.List(c.Request.Context(), identity.UserID(c), filter)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversations listed", items)
}

// @Summary      Get a conversation
// @Tags         conversations
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Success      200 {object} response.APIResponse{data=Conversation}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /conversations/{id} [get]
func (h *Handler) get(c *gin.Context) {
	conv, err := h.service.Get(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation fetched", conv)
}

// @Summary      Hide a conversation for me
// @Tags         conversations
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Success      200 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /conversations/{id}/hide [post]
func (h *Handler) hide(c *gin.Context) {
	if err := h.service.Hide(c.Request.Context(), c.Param("id"), identity.UserID(c)); err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation hidden", nil)
}

// @Summary      Pin or unpin a conversation for me
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Param        request body pinRequest true "Pinned flag"
// @Success      200 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Router       /conversations/{id}/pin [put]
func (h *Handler) setPinned(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}
	if err := h.service.SetPinned(c.Request.Context(), c.Param("id"), identity.UserID(c), req.Pinned); err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation updated", gin.H{"pinned": req.Pinned})
}
