package api

import (
	"net/http"
	"time"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/sweeper"
)

// MaintenanceHandler runs on-demand housekeeping for the caller's mailbox
// and reports how the mail provider is set up.
type MaintenanceHandler struct {
	store      db.Store
	mailbox    *mailbox.Service
	retention  *sweeper.RetentionSweeper
	provider   provider.Provider
	mailDomain string
	now        func() time.Time
}

func NewMaintenanceHandler(store db.Store, svc *mailbox.Service, retention *sweeper.RetentionSweeper, p provider.Provider, mailDomain string) *MaintenanceHandler {
	return &MaintenanceHandler{
		store:      store,
		mailbox:    svc,
		retention:  retention,
		provider:   p,
		mailDomain: mailDomain,
		now:        time.Now,
	}
}

type cleanupTrashResponse struct {
	Deleted int64 `json:"deleted"`
}

// CleanupTrash purges the caller's trash that is past the retention period.
func (h *MaintenanceHandler) CleanupTrash(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	deleted, err := h.retention.PurgeUser(r.Context(), userID, h.now())
	if err != nil {
		writeServiceError(w, r, "MaintenanceHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, cleanupTrashResponse{Deleted: deleted})
}

type fixWebmailURLsResponse struct {
	Updated int `json:"updated"`
}

// FixWebmailURLs rewrites webmail attachment links stored before the inbound rewrite existed.
func (h *MaintenanceHandler) FixWebmailURLs(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	updated, err := h.mailbox.FixWebmailURLs(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, "MaintenanceHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, fixWebmailURLsResponse{Updated: updated})
}

// ProviderStatus reports the provider, its sending domain and the inbound route for the mail domain.
func (h *MaintenanceHandler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetUserIDFromContext(r.Context(), w, h.store); !ok {
		return
	}
	reporter, ok := h.provider.(provider.StatusReporter)
	if !ok {
		WriteJSONResponse(w, r, http.StatusOK, provider.Status{Provider: "unknown"})
		return
	}
	status, err := reporter.Status(r.Context(), h.mailDomain)
	if err != nil {
		writeServiceError(w, r, "MaintenanceHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, status)
}
