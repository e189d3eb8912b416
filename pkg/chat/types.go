package chat

import (
	"kisanmandi/pkg/messages"
	"kisanmandi/pkg/presence"
)

// Client commands
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdSend        = "send"
	CmdTyping      = "typing"
	CmdHeartbeat   = "heartbeat"
	CmdDelivered   = "delivered"
	CmdSeen        = "seen"
	CmdRead        = "read"
)

// Server frame types not carried by realtime.Event
const (
	FrameAck      = "ack"
	FrameError    = "error"
	FrameSnapshot = "presence.snapshot"
)

// Command is one frame sent by the client.
type Command struct {
	Type string `json:"type"`
	// Ref is echoed back on the ack so the client can correlate replies.
	Ref            string   `json:"ref,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	RequestID      string   `json:"request_id,omitempty"`
	Content        string   `json:"content,omitempty"`
	IsTyping       bool     `json:"is_typing,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
}

// Ack answers a command. Code is the error kind; "transient" means the command may be retried.
type Ack struct {
	Type      string            `json:"type"`
	Command   string            `json:"command"`
	Ref       string            `json:"ref,omitempty"`
	OK        bool              `json:"ok"`
	RequestID string            `json:"request_id,omitempty"`
	Message   *messages.Message `json:"message,omitempty"`
	Receipt   *messages.Receipt `json:"receipt,omitempty"`
	Error     string            `json:"error,omitempty"`
	Code      string            `json:"code,omitempty"`
}

// ErrorResponse is sent for frames that cannot be parsed or routed.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Snapshot is the roster sent right after connecting.
type Snapshot struct {
	Type   string            `json:"type"`
	Online []presence.Status `json:"online"`
}
