package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/auth"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/outbound"
	"go.opentelemetry.io/otel/trace"
)

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, store db.Store) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		slog.WarnContext(ctx, "API: no user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := store.GetOrCreateUser(ctx, email)
	if err != nil {
		slog.ErrorContext(ctx, "API: failed to get/create user", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// ParsePaginationParams parses page and limit from query parameters.
// Returns default values (page=1, limit=defaultLimit) if parameters are missing or invalid.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return page, limit
}

// WriteJSONResponse encodes v to a buffer first so a failed encode never leaves a partial body.
func WriteJSONResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "API: failed to encode response", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.WarnContext(r.Context(), "API: failed to write response", sloki.WrapError(err))
	}
}

// decodeJSON reads a JSON request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

var clientErrors = []error{
	mailbox.ErrInvalidFolder,
	mailbox.ErrInvalidLabel,
	mailbox.ErrInvalidCategory,
	mailbox.ErrInvalidSnooze,
	mailbox.ErrNotInTrash,
	mailbox.ErrScheduledMessage,
	mailbox.ErrInvalidAddress,
	mailbox.ErrAddressOutsideDomain,
	outbound.ErrNoRecipients,
	outbound.ErrInvalidRecipient,
	outbound.ErrScheduleInPast,
}

var conflictErrors = []error{
	mailbox.ErrAddressTaken,
	mailbox.ErrAlreadyProvisioned,
	outbound.ErrNotDraft,
	outbound.ErrNotScheduled,
	outbound.ErrNoMailbox,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeServiceError maps a mailbox or outbound error onto an HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, component string, err error) {
	switch {
	case errors.Is(err, mailbox.ErrMessageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case matchesAny(err, clientErrors):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case matchesAny(err, conflictErrors):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, outbound.ErrProviderNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, outbound.ErrSendFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(r.Context(), component+": request failed", sloki.WrapError(err), traceIDAttr(r.Context()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// traceIDAttr ties a log line to the request span so 500s can be found in the trace backend.
func traceIDAttr(ctx context.Context) slog.Attr {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Attr{}
	}
	return slog.String("trace_id", sc.TraceID().String())
}
