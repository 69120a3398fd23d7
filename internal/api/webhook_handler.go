package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/crypto"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
)

// WebhookHandler receives inbound mail from the provider. It always answers 200 so the
// provider never retries; every failure is logged and the payload dropped.
type WebhookHandler struct {
	normalizer *inbound.Normalizer
	mailbox    *mailbox.Service
	verifier   *crypto.WebhookVerifier
	logger     *slog.Logger
}

func NewWebhookHandler(normalizer *inbound.Normalizer, svc *mailbox.Service, verifier *crypto.WebhookVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{normalizer: normalizer, mailbox: svc, verifier: verifier, logger: logger}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, r, http.StatusOK, h.process(w, r))
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request) (resp models.WebhookResponse) {
	ctx := context.WithoutCancel(r.Context())

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "Inbound: webhook processing panicked", slog.String("panic", fmt.Sprint(rec)))
			resp = models.WebhookResponse{Message: "Dropped", Error: "internal error"}
		}
	}()

	payload, err := inbound.ParseRequest(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "Inbound: unreadable webhook body", sloki.WrapError(err))
		return models.WebhookResponse{Message: "Dropped", Error: "invalid payload"}
	}

	if err := h.verifier.Verify(payload.Get("timestamp"), payload.Get("token"), payload.Get("signature")); err != nil {
		h.logger.WarnContext(ctx, "Inbound: webhook signature rejected", sloki.WrapError(err))
		return models.WebhookResponse{Message: "Dropped", Error: "invalid signature"}
	}

	normalized, err := h.normalizer.Normalize(ctx, payload)
	if err != nil {
		var reject *inbound.RejectError
		reason := "internal error"
		if errors.As(err, &reject) {
			reason = string(reject.Reason)
		}
		h.logger.WarnContext(ctx, "Inbound: payload dropped", slog.String("reason", reason), sloki.WrapError(err))
		return models.WebhookResponse{Message: "Dropped", Error: reason}
	}

	result := h.mailbox.Deliver(ctx, normalized)
	switch {
	case len(result.Created) > 0:
		h.logger.InfoContext(ctx, "Inbound: message delivered",
			slog.String("mail_id", result.FirstID()), slog.Int("copies", len(result.Created)))
		return models.WebhookResponse{Message: "Email received", MailID: result.FirstID()}
	case result.Duplicates > 0:
		return models.WebhookResponse{Message: "Duplicate ignored"}
	case result.Failed > 0:
		return models.WebhookResponse{Message: "Dropped", Error: "delivery failed"}
	default:
		return models.WebhookResponse{Message: "Dropped", Error: "recipient not found"}
	}
}
