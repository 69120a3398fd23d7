package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/mailbox"
)

// TestHandler provides test-only endpoints used by E2E tests.
// These endpoints are only registered in test environments.
type TestHandler struct {
	store      db.Store
	normalizer *inbound.Normalizer
	mailbox    *mailbox.Service
}

// NewTestHandler creates a new TestHandler instance.
func NewTestHandler(store db.Store, normalizer *inbound.Normalizer, svc *mailbox.Service) *TestHandler {
	return &TestHandler{store: store, normalizer: normalizer, mailbox: svc}
}

type addInboundMessageRequest struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// AddInboundMessage delivers a message to the caller's mailbox through the same
// normalize-and-deliver path the provider webhook uses. It is used by E2E tests to
// simulate new incoming mail.
func (h *TestHandler) AddInboundMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.store)
	if !ok {
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "TestHandler: failed to load user", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if user.MailAddress == nil {
		http.Error(w, "mailbox address not set up", http.StatusConflict)
		return
	}

	var req addInboundMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Subject == "" || req.From == "" {
		http.Error(w, "subject and from are required", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		req.Text = "E2E test message."
	}

	now := time.Now()
	messageID := fmt.Sprintf("<e2e-%d@vrelay.local>", now.UnixNano())
	raw := fmt.Sprintf("Message-ID: %s\r\nDate: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		messageID, now.Format(time.RFC1123Z), req.From, *user.MailAddress, req.Subject, req.Text)

	normalized, err := h.normalizer.Normalize(ctx, inbound.NewPayload(map[string]string{
		"recipient": *user.MailAddress,
		"sender":    req.From,
		"subject":   req.Subject,
		"body-mime": raw,
	}))
	if err != nil {
		slog.ErrorContext(ctx, "TestHandler: failed to normalize message", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result := h.mailbox.Deliver(ctx, normalized)
	if len(result.Created) == 0 {
		http.Error(w, "message was not delivered", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, r, http.StatusCreated, map[string]string{"mailId": result.FirstID()})
}
