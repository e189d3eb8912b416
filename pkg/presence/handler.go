package presence

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/response"
)

type Handler struct {
	tracker *Tracker
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/presence", h.touch)
	router.GET("/presence", h.lookup)
	router.GET("/presence/roster", h.roster)
}

type touchRequest struct {
	IsOnline *bool `json:"is_online" binding:"required"`
}

// @Summary      Heartbeat or visibility change
// @Description  Foreground and heartbeat calls send is_online=true; backgrounding sends false.
// @Tags         presence
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        request body touchRequest true "Presence flag"
// @Success      200 {object} response.APIResponse{data=Status}
// @Failure      400 {object} response.APIResponse
// @Router       /presence [post]
func (h *Handler) touch(c *gin.Context) {
	var req touchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	status, err := h.tracker.Touch(c.Request.Context(), identity.UserID(c), *req.IsOnline)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "presence updated", status)
}

// @Summary      Look up presence
// @Tags         presence
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        user_ids query string true "Comma separated user UUIDs"
// @Success      200 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Router       /presence [get]
func (h *Handler) lookup(c *gin.Context) {
	ids := make([]string, 0)
	for _, id := range strings.Split(c.Query("user_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "user_ids is required", nil)
		return
	}

	statuses, err := h.tracker.Lookup(c.Request.Context(), ids)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "presence fetched", statuses)
}

// @Summary      Online roster
// @Tags         presence
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Success      200 {object} response.APIResponse{data=[]Status}
// @Router       /presence/roster [get]
func (h *Handler) roster(c *gin.Context) {
	roster, err := h.tracker.Roster(c.Request.Context())
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "roster fetched", roster)
}
