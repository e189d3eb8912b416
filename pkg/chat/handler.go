package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/messages"
	"kisanmandi/pkg/presence"
	"kisanmandi/pkg/realtime"
	"kisanmandi/pkg/response"
	"kisanmandi/pkg/typing"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type PresenceTracker interface {
	Touch(ctx context.Context, userID string, online bool) (presence.Status, error)
	Roster(ctx context.Context) ([]presence.Status, error)
}

type TypingSender interface {
	Send(ctx context.Context, conversationID, userID string, isTyping bool) (typing.Signal, error)
}

// WebSocketUpgrader abstracts websocket upgrade for testability.
type WebSocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

// Handler speaks the chat protocol over a websocket: client commands in, bus events out.
type Handler struct {
	hub      *realtime.Hub
	messages messages.Service
	members  Membership
	presence PresenceTracker
	typing   TypingSender
	upgrader WebSocketUpgrader
	logger   *log.Logger
}

func NewHandler(hub *realtime.Hub, msgs messages.Service, members Membership, pres PresenceTracker, typer TypingSender) *Handler {
	return &Handler{
		hub:      hub,
		messages: msgs,
		members:  members,
		presence: pres,
		typing:   typer,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// origins are enforced by the CORS layer in front of the API
				return true
			},
		},
		logger: log.New(log.Writer(), "[chat] ", log.LstdFlags),
	}
}

// SetWebSocketUpgrader swaps the upgrader, mainly for tests.
func (h *Handler) SetWebSocketUpgrader(u WebSocketUpgrader) {
	h.upgrader = u
}

// RegisterRoutes mounts the websocket endpoint. Browsers cannot set headers on a websocket
// handshake, so the caller may also be given as ?user_id=.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/chat", h.serveWS)
	router.GET("/chat/status", h.status)
}

// @Summary      Open the chat websocket
// @Description  Upgrades to a websocket speaking the subscribe/send/typing/heartbeat/delivered/seen/read protocol.
// @Tags         chat
// @Param        user_id query string false "Caller user UUID when the X-User-ID header cannot be set"
// @Success      101
// @Failure      401 {object} response.APIResponse
// @Router       /ws/chat [get]
func (h *Handler) serveWS(c *gin.Context) {
	userID, ok := identity.FromRequest(c)
	if !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid user_id, must be UUID", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade error: %v", err)
		return
	}

	client := h.hub.AddClient(userID, conn)
	h.logger.Printf("user %s connected", userID)
	h.connected(client)

	go h.writeLoop(client)
	go h.readLoop(client)
}

// @Summary      Connections on this instance
// @Tags         chat
// @Produce      json
// @Success      200 {object} response.APIResponse
// @Router       /chat/status [get]
func (h *Handler) status(c *gin.Context) {
	users := h.hub.ConnectedUsers()
	response.SendAPIResponse(c, http.StatusOK, true, "connection status", gin.H{
		"connected_users": users,
		"count":           len(users),
	})
}

func (h *Handler) connected(client *realtime.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.presence.Touch(ctx, client.UserID, true); err != nil {
		h.logger.Printf("presence touch (connect) failed for %s: %v", client.UserID, err)
	}
	roster, err := h.presence.Roster(ctx)
	if err != nil {
		h.logger.Printf("roster snapshot failed for %s: %v", client.UserID, err)
		roster = []presence.Status{}
	}
	h.reply(client, Snapshot{Type: FrameSnapshot, Online: roster})
}

// disconnected runs when the read loop ends. A connection that was replaced by a newer one
// leaves presence alone.
func (h *Handler) disconnected(client *realtime.Client) {
	if client.Conn != nil {
		client.Conn.Close()
	}
	if !h.hub.RemoveClient(client) {
		h.logger.Printf("user %s replaced by a newer connection", client.UserID)
		return
	}
	h.logger.Printf("user %s disconnected", client.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.presence.Touch(ctx, client.UserID, false); err != nil {
		h.logger.Printf("presence touch (disconnect) failed for %s: %v", client.UserID, err)
	}
}

func (h *Handler) readLoop(client *realtime.Client) {
	defer h.disconnected(client)

	client.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		select {
		case <-client.Done:
			return
		default:
		}

		var cmd Command
		if err := client.Conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(client, ErrorResponse{Type: FrameError, Error: "invalid command format", Code: string(apperr.KindInvalidArgument)})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Printf("websocket error for user %s: %v", client.UserID, err)
			}
			return
		}
		client.Conn.SetReadDeadline(time.Now().Add(readTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h.dispatch(ctx, client, cmd)
		cancel()
	}
}

func (h *Handler) writeLoop(client *realtime.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done:
			return

		case frame := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Conn.WriteJSON(frame); err != nil {
				h.logger.Printf("write error for user %s: %v", client.UserID, err)
				client.Conn.Close()
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Printf("ping error for user %s: %v", client.UserID, err)
				client.Conn.Close()
				return
			}
		}
	}
}

// dispatch runs one command to completion. Commands from one client are handled in order.
func (h *Handler) dispatch(ctx context.Context, client *realtime.Client, cmd Command) {
	ack := Ack{Type: FrameAck, Command: cmd.Type, Ref: cmd.Ref, RequestID: cmd.RequestID}

	var err error
	switch cmd.Type {
	case CmdSubscribe:
		err = h.subscribe(ctx, client.UserID, cmd.ConversationID)
	case CmdUnsubscribe:
		h.hub.Unsubscribe(client.UserID, realtime.ConversationTopic(cmd.ConversationID))
		h.hub.Unsubscribe(client.UserID, realtime.TypingTopic(cmd.ConversationID))
	case CmdSend:
		var m messages.Message
		m, _, err = h.messages.Send(ctx, messages.SendInput{
			ConversationID: cmd.ConversationID,
			SenderID:       client.UserID,
			RequestID:      cmd.RequestID,
			Content:        cmd.Content,
			MessageType:    messages.TypeText,
		})
		if err == nil {
			ack.Message = &m
			ack.RequestID = m.RequestID
		}
	case CmdTyping:
		_, err = h.typing.Send(ctx, cmd.ConversationID, client.UserID, cmd.IsTyping)
	case CmdHeartbeat:
		_, err = h.presence.Touch(ctx, client.UserID, true)
	case CmdDelivered, CmdSeen, CmdRead:
		var r messages.Receipt
		r, err = h.receipt(ctx, client.UserID, cmd)
		if err == nil {
			ack.Receipt = &r
		}
	default:
		h.reply(client, ErrorResponse{Type: FrameError, Error: "unknown command " + cmd.Type, Code: string(apperr.KindInvalidArgument)})
		return
	}

	if err != nil {
		ack.Error = errorMessage(err)
		ack.Code = string(apperr.KindOf(err))
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Printf("%s from %s failed: %v", cmd.Type, client.UserID, err)
		}
	} else {
		ack.OK = true
	}
	h.reply(client, ack)
}

func (h *Handler) subscribe(ctx context.Context, userID, conversationID string) error {
	ok, err := h.members.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Printf("policy violation: user %s subscribing to conversation %s", userID, conversationID)
		return apperr.PermissionDenied("not a participant of this conversation")
	}
	h.hub.Subscribe(userID, realtime.ConversationTopic(conversationID))
	h.hub.Subscribe(userID, realtime.TypingTopic(conversationID))
	return nil
}

func (h *Handler) receipt(ctx context.Context, userID string, cmd Command) (messages.Receipt, error) {
	switch cmd.Type {
	case CmdDelivered:
		return h.messages.MarkDelivered(ctx, cmd.ConversationID, userID, cmd.MessageIDs)
	case CmdSeen:
		return h.messages.MarkSeen(ctx, cmd.ConversationID, userID, cmd.MessageIDs)
	default:
		return h.messages.MarkConversationRead(ctx, cmd.ConversationID, userID)
	}
}

// reply queues a frame for the write loop, giving up if the client goes away.
func (h *Handler) reply(client *realtime.Client, frame interface{}) {
	select {
	case client.Send <- frame:
	case <-client.Done:
	}
}

func errorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
