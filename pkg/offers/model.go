package offers

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
	StatusCompleted = "completed"
)

const PaymentSubmitted = "submitted"

var transitions = map[string][]string{
	StatusPending:  {StatusAccepted, StatusRejected, StatusExpired},
	StatusAccepted: {StatusCompleted},
}

// CanTransition reports whether an offer may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Offer struct {
	ID             string    `json:"id"`
	ListingID      string    `json:"listing_id"`
	BuyerID        string    `json:"buyer_id"`
	FarmerID       string    `json:"farmer_id"`
	ConversationID string    `json:"conversation_id"`
	OfferPrice     float64   `json:"offer_price"`
	Quantity       float64   `json:"quantity"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	RequestID      string    `json:"request_id,omitempty"`
	// ActorID is who made the last transition.
	ActorID string `json:"-"`
	// PostedStatus is the latest status whose conversation messages are all stored.
	PostedStatus string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Total is the amount due for the whole quantity, in whole paise.
func (o Offer) Total() float64 {
	return roundCents(o.OfferPrice * o.Quantity)
}

// roundCents matches the NUMERIC(12,2) columns amounts are stored in.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Counterparty returns the other side of the offer from userID.
func (o Offer) Counterparty(userID string) string {
	if userID == o.BuyerID {
		return o.FarmerID
	}
	return o.BuyerID
}

func (o Offer) involves(userID string) bool {
	return userID == o.BuyerID || userID == o.FarmerID
}

type Payment struct {
	ID             string    `json:"id"`
	OfferID        string    `json:"offer_id"`
	PayerID        string    `json:"payer_id"`
	Amount         float64   `json:"amount"`
	Status         string    `json:"status"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	ScreenshotURL  string    `json:"screenshot_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type CreateInput struct {
	ListingID string
	BuyerID   string
	FarmerID  string
	Price     float64
	Quantity  float64
	Message   string
	// RequestID makes a retried create return the first offer instead of making another.
	RequestID string
}

type PaymentInput struct {
	OfferID        string
	PayerID        string
	Amount         float64
	TransactionRef string
	ScreenshotURL  string
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OfferText is the chat line posted when an offer is made.
func OfferText(price, quantity float64) string {
	return fmt.Sprintf("Offer: Rs %s | Qty: %s", formatAmount(price), formatAmount(quantity))
}

func transitionText(status string) string {
	switch status {
	case StatusAccepted:
		return "Offer accepted"
	case StatusRejected:
		return "Offer rejected"
	case StatusExpired:
		return "Offer expired"
	case StatusCompleted:
		return "Offer completed"
	default:
		return "Offer " + status
	}
}

func paymentText(p Payment) string {
	text := fmt.Sprintf("Payment submitted: Rs %.2f", p.Amount)
	if p.TransactionRef != "" {
		text += " (ref " + p.TransactionRef + ")"
	}
	return text
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// UPILink builds a UPI deep link that payment apps open with the fields prefilled.
func UPILink(payeeVPA, payeeName string, amount float64, note string) string {
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=INR&tn=%s",
		escape(payeeVPA), escape(payeeName), escape(fmt.Sprintf("%.2f", amount)), escape(note))
}
