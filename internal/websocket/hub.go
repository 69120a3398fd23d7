// Package websocket pushes mailbox events to connected browser sessions.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/gorilla/websocket"
	"github.com/vdavid/vrelay/internal/models"
)

const writeTimeout = 5 * time.Second

// Client wraps a WebSocket connection. Writes are serialized per connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per user.
// It supports multiple connections per user (e.g., multiple tabs).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
	logger     *slog.Logger
}

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int, logger *slog.Logger) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
		logger:     logger,
	}
}

// Register adds a WebSocket connection for the given user.
// If the per-user limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		h.logger.Warn("WebSocket: user exceeded max connections, closing new connection",
			slog.String("user_id", userID), slog.Int("max", h.maxPerUser))
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given user and closes the connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for the user.
// A client that cannot be written to is dropped.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.logger.Warn("WebSocket: failed to write message",
				slog.String("user_id", userID), sloki.WrapError(err))
			h.Unregister(userID, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// EventNewEmail is pushed when a message lands in a user's mailbox.
const EventNewEmail = "new_email"

// MessageSummary is the part of a message included in push events.
type MessageSummary struct {
	ID      string             `json:"id"`
	Folder  models.Folder      `json:"folder"`
	Subject string             `json:"subject"`
	From    models.Participant `json:"from"`
}

// Event is the JSON envelope written to clients.
type Event struct {
	Type    string         `json:"type"`
	Message MessageSummary `json:"message"`
}

// NotifyNewMessage pushes a new_email event for msg to its owner.
func (h *Hub) NotifyNewMessage(msg *models.Message) {
	payload, err := json.Marshal(Event{
		Type: EventNewEmail,
		Message: MessageSummary{
			ID:      msg.ID,
			Folder:  msg.Folder,
			Subject: msg.Subject,
			From:    msg.From,
		},
	})
	if err != nil {
		h.logger.Error("WebSocket: failed to encode event", sloki.WrapError(err))
		return
	}
	h.Send(msg.UserID, payload)
}
