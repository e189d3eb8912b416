package offers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kisanmandi/pkg/apperr"
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
	router.POST("/offers", h.create)
	router.GET("/offers/:id", h.get)
	router.POST("/offers/:id/accept", h.accept)
	router.POST("/offers/:id/reject", h.reject)
	router.POST("/offers/:id/complete", h.complete)
	router.POST("/offers/:id/payments", h.recordPayment)
	router.GET("/offers/:id/payment-link", h.paymentLink)
	router.GET("/conversations/:id/offers", h.listForConversation)
}

type createRequest struct {
	ListingID string  `json:"listing_id" binding:"required"`
	FarmerID  string  `json:"farmer_id" binding:"required"`
	Price     float64 `json:"price" binding:"required,gt=0"`
	Quantity  float64 `json:"quantity" binding:"required,gt=0"`
	Message   string  `json:"message"`
	RequestID string  `json:"request_id"`
}

type paymentRequest struct {
	Amount         float64 `json:"amount" binding:"gte=0"`
	TransactionRef string  `json:"transaction_ref"`
	ScreenshotURL  string  `json:"screenshot_url"`
}

type paymentResult struct {
	Payment Payment `json:"payment"`
	Offer   Offer   `json:"offer"`
}

// @Summary      Make an offer
// @Description  Opens (or reuses) the conversation with the farmer and posts the offer into it.
// @Description  A repeated request_id returns the first offer with 200.
// @Tags         offers
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Buyer user UUID"
// @Param        request body createRequest true "Offer"
// @Success      201 {object} response.APIResponse{data=Offer}
// @Success      200 {object} response.APIResponse{data=Offer}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /offers [post]
func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	o, created, err := h.service.Create(c.Request.Context(), CreateInput{
		ListingID: req.ListingID,
		BuyerID:   identity.UserID(c),
		FarmerID:  req.FarmerID,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Message:   req.Message,
		RequestID: req.RequestID,
	})
	if err != nil {
		response.SendError(c, err)
		return
	}
	if !created {
		response.SendAPIResponse(c, http.StatusOK, true, "offer already created", o)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "offer created", o)
}

// @Summary      Get an offer
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Offer ID"
// @Success      200 {object} response.APIResponse{data=Offer}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /offers/{id} [get]
func (h *Handler) get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "offer fetched", o)
}

// @Summary      Accept an offer
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Farmer user UUID"
// @Param        id path string true "Offer ID"
// @Success      200 {object} response.APIResponse{data=Offer}
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /offers/{id}/accept [post]
func (h *Handler) accept(c *gin.Context) {
	h.transition(c, h.service.Accept, "offer accepted")
}

// @Summary      Reject an offer
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Farmer user UUID"
// @Param        id path string true "Offer ID"
// @Success      200 {object} response.APIResponse{data=Offer}
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /offers/{id}/reject [post]
func (h *Handler) reject(c *gin.Context) {
	h.transition(c, h.service.Reject, "offer rejected")
}

// @Summary      Mark an accepted offer completed
// @Description  Manual settlement without a payment record.
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Farmer user UUID"
// @Param        id path string true "Offer ID"
// @Success      200 {object} response.APIResponse{data=Offer}
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /offers/{id}/complete [post]
func (h *Handler) complete(c *gin.Context) {
	h.transition(c, h.service.Complete, "offer completed")
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, offerID, userID string) (Offer, error), message string) {
	o, err := fn(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, message, o)
}

// @Summary      Submit a payment
// @Description  Records the payment first; if completing the offer fails the payment is kept and settled later (202).
// @Tags         offers
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Buyer user UUID"
// @Param        id path string true "Offer ID"
// @Param        request body paymentRequest true "Payment"
// @Success      201 {object} response.APIResponse{data=paymentResult}
// @Success      202 {object} response.APIResponse{data=paymentResult}
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /offers/{id}/payments [post]
func (h *Handler) recordPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	p, o, err := h.service.RecordPayment(c.Request.Context(), PaymentInput{
		OfferID:        c.Param("id"),
		PayerID:        identity.UserID(c),
		Amount:         req.Amount,
		TransactionRef: req.TransactionRef,
		ScreenshotURL:  req.ScreenshotURL,
	})
	var appErr *apperr.Error
	switch {
	case err == nil:
		response.SendAPIResponse(c, http.StatusCreated, true, "payment recorded", paymentResult{Payment: p, Offer: o})
	case p.ID != "" && errors.As(err, &appErr) && appErr.Kind == apperr.KindTransient:
		response.SendAPIResponse(c, http.StatusAccepted, true, "payment recorded, settlement pending", paymentResult{Payment: p, Offer: o})
	default:
		response.SendError(c, err)
	}
}

// @Summary      UPI payment link
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Offer ID"
// @Success      200 {object} response.APIResponse{data=map[string]string}
// @Failure      409 {object} response.APIResponse
// @Router       /offers/{id}/payment-link [get]
func (h *Handler) paymentLink(c *gin.Context) {
	link, err := h.service.PaymentLink(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "payment link built", gin.H{"upi_link": link})
}

// @Summary      Offers in a conversation
// @Tags         offers
// @Produce      json
// @Param        X-User-ID header string true "Caller user UUID"
// @Param        id path string true "Conversation ID"
// @Success      200 {object} response.APIResponse{data=[]Offer}
// @Failure      403 {object} response.APIResponse
// @Router       /conversations/{id}/offers [get]
func (h *Handler) listForConversation(c *gin.Context) {
	items, err := h.service.ListForConversation(c.Request.Context(), c.Param("id"), identity.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "offers fetched", items)
}
