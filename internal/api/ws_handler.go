package api

import (
	"log/slog"
	"net/http"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/gorilla/websocket"
	"github.com/vdavid/vrelay/internal/auth"
	"github.com/vdavid/vrelay/internal/db"
	ws "github.com/vdavid/vrelay/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for new-mail push.
type WebSocketHandler struct {
	store db.Store
	hub   *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(store db.Store, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{store: store, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	// The server runs behind a reverse proxy that enforces origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Browsers cannot set headers on WebSocket connections, so the token may come
// from ?token= instead of the Authorization header.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		slog.InfoContext(ctx, "WebSocket: token validation failed", sloki.WrapError(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.store.GetOrCreateUser(ctx, userEmail)
	if err != nil {
		slog.ErrorContext(ctx, "WebSocket: failed to get/create user", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "WebSocket: failed to upgrade connection", slog.String("user_id", userID), sloki.WrapError(err))
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		return
	}
	slog.DebugContext(ctx, "WebSocket: connection established", slog.String("user_id", userID))

	go h.readLoop(userID, client)
}

// readLoop reads until the connection is closed, then unregisters the client.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(userID, client)
}
