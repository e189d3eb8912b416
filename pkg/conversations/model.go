package conversations

import (
	"time"

	"kisanmandi/pkg/profiles"
)

type Conversation struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	ConversationKey string    `json:"conversation_key,omitempty"`
	LastMessage     string    `json:"last_message"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	CreatedAt       time.Time `json:"created_at"`
}

type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	JoinedAt       time.Time  `json:"joined_at"`
	IsPinned       bool       `json:"is_pinned"`
	HiddenAt       *time.Time `json:"hidden_at,omitempty"`
}

// Peer is the other participant as seen by the caller.
type Peer struct {
	profiles.Profile
	Location   string     `json:"location"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type Summary struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Title          string    `json:"title"`
	LastMessage    string    `json:"last_message"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UnreadCount    int64     `json:"unread_count"`
	IsPinned       bool      `json:"is_pinned"`
	PeerID         string    `json:"peer_id"`
	Peer           *Peer     `json:"peer,omitempty"`
}

const (
	FilterAll    = "all"
	FilterUnread = "unread"
	FilterPinned = "pinned"
)

type Filter struct {
	Only  string
	Query string
}

// Key canonicalises a participant pair so both orderings map to the same conversation.
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
