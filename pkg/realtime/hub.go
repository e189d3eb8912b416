package realtime

import (
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents a connected user
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan interface{} // outbound frames, drained by the write loop
	Done   chan struct{}    // closed when the client is replaced or removed

	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Hub tracks live connections and their topic subscriptions. One connection per user;
// a reconnect replaces the previous one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client             // user_id -> Client
	topics  map[string]map[string]struct{} // topic -> user_ids
	logger  *log.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]struct{}),
		logger:  log.New(log.Writer(), "[realtime] ", log.LstdFlags),
	}
}

// AddClient registers conn for userID and subscribes it to the user's inbox and the presence roster.
func (h *Hub) AddClient(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[userID]; ok {
		existing.close()
		if existing.Conn != nil {
			existing.Conn.Close()
		}
		h.unsubscribeAllLocked(userID)
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan interface{}, 64),
		Done:   make(chan struct{}),
	}
	h.clients[userID] = client
	h.subscribeLocked(userID, UserTopic(userID))
	h.subscribeLocked(userID, PresenceTopic)
	return client
}

// RemoveClient unregisters client unless it has already been replaced by a newer connection.
// It reports whether the user is now disconnected.
func (h *Hub) RemoveClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.close()
	current, ok := h.clients[client.UserID]
	if !ok || current != client {
		return false
	}
	delete(h.clients, client.UserID)
	h.unsubscribeAllLocked(client.UserID)
	return true
}

func (h *Hub) GetClient(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[userID]
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	return users
}

func (h *Hub) Subscribe(userID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID]; !ok {
		return
	}
	h.subscribeLocked(userID, topic)
}

func (h *Hub) Unsubscribe(userID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) IsSubscribed(userID, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic][userID]
	return ok
}

func (h *Hub) subscribeLocked(userID, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		h.topics[topic] = subs
	}
	subs[userID] = struct{}{}
}

func (h *Hub) unsubscribeAllLocked(userID string) {
	for topic, subs := range h.topics {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Dispatch delivers ev to every local subscriber of its topic. Slow clients drop frames
// rather than stall the bus.
func (h *Hub) Dispatch(ev Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[ev.Topic]))
	for userID := range h.topics[ev.Topic] {
		if c, ok := h.clients[userID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.Send <- ev:
		case <-c.Done:
		default:
			h.logger.Printf("dropping %s for user %s: send queue full", ev.Type, c.UserID)
		}
	}
}

// SendToUser sends a frame directly to one connected user.
func (h *Hub) SendToUser(userID string, frame interface{}) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}

	select {
	case client.Send <- frame:
		return nil
	case <-client.Done:
		return fmt.Errorf("user %s disconnected", userID)
	default:
		return fmt.Errorf("user %s message queue full", userID)
	}
}
