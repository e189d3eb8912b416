package messages

import "time"

const (
	TypeText    = "text"
	TypeOffer   = "offer"
	TypeSystem  = "system"
	TypePayment = "payment"
)

// ReservedRequestPrefix marks request ids generated by the offer workflow. Clients may not use it.
const ReservedRequestPrefix = "offer:"

// Delivery states as observed by the sender, strictly increasing.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
	StatusRead      = "read"
)

const (
	EventCreated             = "message.created"
	EventDelivered           = "message.delivered"
	EventSeen                = "message.seen"
	EventRead                = "message.read"
	EventConversationUpdated = "conversation.updated"
)

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RequestID      string     `json:"request_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	OfferID        *string    `json:"offer_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Status         string     `json:"status"`
}

func (m Message) offerID() string {
	if m.OfferID == nil {
		return ""
	}
	return *m.OfferID
}

// DeliveryStatus derives the state from the receipt timestamps.
func (m Message) DeliveryStatus() string {
	switch {
	case m.ReadAt != nil:
		return StatusRead
	case m.SeenAt != nil:
		return StatusSeen
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Preview is the text shown in conversation lists.
func (m Message) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	switch m.MessageType {
	case TypeOffer:
		return "Offer"
	case TypePayment:
		return "Payment submitted"
	default:
		return ""
	}
}

// Receipt is broadcast when a reader advances delivery state.
type Receipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	Status         string    `json:"status"`
	MessageIDs     []string  `json:"message_ids"`
	At             time.Time `json:"at"`
}

// ConversationUpdate is pushed to the recipient's inbox so lists re-sort without a refetch.
type ConversationUpdate struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	LastMessage    string    `json:"last_message"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type SendInput struct {
	ConversationID string
	SenderID       string
	RequestID      string
	Content        string
	MessageType    string
	OfferID        string
}
