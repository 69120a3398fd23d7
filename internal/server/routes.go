package server

import (
	"fmt"
	"net/http"

	"github.com/vdavid/vrelay/internal/api"
	"github.com/vdavid/vrelay/internal/auth"
	"github.com/vdavid/vrelay/internal/config"
)

// NewServer creates and returns a new HTTP handler for the vrelay API server.
func NewServer(cfg *config.Config, s *Services) http.Handler {
	authHandler := api.NewAuthHandler(s.Store)
	settingsHandler := api.NewSettingsHandler(s.Store, cfg.InternalFallbackReplies)
	webhookHandler := api.NewWebhookHandler(s.Normalizer, s.Mailbox, s.Verifier, s.Logger)
	messagesHandler := api.NewMessagesHandler(s.Store, s.Mailbox)
	composeHandler := api.NewComposeHandler(s.Store, s.Orchestrator, s.Mailbox)
	addressHandler := api.NewAddressHandler(s.Store, s.Provisioner)
	maintenanceHandler := api.NewMaintenanceHandler(s.Store, s.Mailbox, s.Retention, s.Provider, cfg.MailDomain)
	wsHandler := api.NewWebSocketHandler(s.Store, s.Hub)

	mux := http.NewServeMux()
	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth.RequireAuth(h))
	}

	mux.HandleFunc("GET /{$}", handleRoot)

	// The provider authenticates by signature, not by bearer token.
	mux.HandleFunc("POST /api/v1/mail/webhook", webhookHandler.Handle)

	authed("GET /api/v1/auth/status", authHandler.GetAuthStatus)
	authed("GET /api/v1/settings", settingsHandler.GetSettings)
	authed("POST /api/v1/settings", settingsHandler.PostSettings)

	authed("GET /api/v1/mail/messages", messagesHandler.List)
	authed("GET /api/v1/mail/messages/stats", messagesHandler.Stats)
	authed("GET /api/v1/mail/categories/{category}", messagesHandler.ListByCategory)
	authed("GET /api/v1/mail/messages/{id}", messagesHandler.Get)
	authed("DELETE /api/v1/mail/messages/{id}", messagesHandler.Delete)
	authed("PATCH /api/v1/mail/messages/{id}/read", messagesHandler.Read)
	authed("PATCH /api/v1/mail/messages/{id}/star", messagesHandler.Star)
	authed("PATCH /api/v1/mail/messages/{id}/important", messagesHandler.Important)
	authed("PATCH /api/v1/mail/messages/{id}/move", messagesHandler.Move)
	authed("POST /api/v1/mail/messages/{id}/labels", messagesHandler.AddLabel)
	authed("DELETE /api/v1/mail/messages/{id}/labels/{label}", messagesHandler.RemoveLabel)
	authed("POST /api/v1/mail/messages/{id}/categories", messagesHandler.AddCategory)
	authed("DELETE /api/v1/mail/messages/{id}/categories/{category}", messagesHandler.RemoveCategory)
	authed("POST /api/v1/mail/messages/{id}/snooze", messagesHandler.Snooze)
	authed("DELETE /api/v1/mail/messages/{id}/snooze", messagesHandler.Unsnooze)
	authed("POST /api/v1/mail/messages/{id}/reply", composeHandler.Reply)

	authed("POST /api/v1/mail/send", composeHandler.Send)
	authed("GET /api/v1/mail/drafts", composeHandler.ListDrafts)
	authed("POST /api/v1/mail/drafts", composeHandler.SaveDraft)
	authed("GET /api/v1/mail/scheduled", composeHandler.ListScheduled)
	authed("POST /api/v1/mail/scheduled", composeHandler.Schedule)
	authed("PATCH /api/v1/mail/scheduled/{id}", composeHandler.UpdateSchedule)
	authed("DELETE /api/v1/mail/scheduled/{id}", composeHandler.CancelSchedule)

	authed("GET /api/v1/mail/address/check", addressHandler.Check)
	authed("POST /api/v1/mail/address", addressHandler.Setup)

	authed("POST /api/v1/mail/cleanup-trash", maintenanceHandler.CleanupTrash)
	authed("POST /api/v1/mail/fix-webmail-urls", maintenanceHandler.FixWebmailURLs)
	authed("GET /api/v1/mail/provider-status", maintenanceHandler.ProviderStatus)

	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	if cfg.Environment == "test" {
		testHandler := api.NewTestHandler(s.Store, s.Normalizer, s.Mailbox)
		authed("POST /test/add-inbound-message", testHandler.AddInboundMessage)
	}

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "vrelay API is running")
}
