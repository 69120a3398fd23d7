package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
)

// SettingsHandler handles user settings-related API requests.
type SettingsHandler struct {
	store db.Store
	// fallbackReplies is reported for users who never saved settings.
	fallbackReplies bool
}

// NewSettingsHandler creates a new SettingsHandler instance.
func NewSettingsHandler(store db.Store, fallbackReplies bool) *SettingsHandler {
	return &SettingsHandler{store: store, fallbackReplies: fallbackReplies}
}

// GetSettings returns the user settings for the current user, with defaults when none are saved.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.store)
	if !ok {
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "SettingsHandler: failed to load user", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := models.UserSettingsResponse{
		DisplayName:             user.DisplayName,
		MailAddress:             user.MailAddress,
		PaginationPerPage:       mailbox.DefaultPerPage,
		InternalFallbackReplies: h.fallbackReplies,
	}

	settings, err := h.store.GetUserSettings(ctx, userID)
	switch {
	case err == nil:
		response.PaginationPerPage = settings.PaginationPerPage
		response.InternalFallbackReplies = settings.InternalFallbackReplies
	case !errors.Is(err, db.ErrUserSettingsNotFound):
		slog.ErrorContext(ctx, "SettingsHandler: failed to get settings", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, r, http.StatusOK, response)
}

// PostSettings saves or updates the user settings for the current user.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.store)
	if !ok {
		return
	}

	var req models.UserSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateSettingsRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	settings := &models.UserSettings{
		UserID:                  userID,
		PaginationPerPage:       req.PaginationPerPage,
		InternalFallbackReplies: req.InternalFallbackReplies,
	}
	if err := h.store.SaveUserSettings(ctx, settings); err != nil {
		slog.ErrorContext(ctx, "SettingsHandler: failed to save settings", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if req.DisplayName != "" {
		user, err := h.store.GetUser(ctx, userID)
		if err == nil && user.MailAddress != nil {
			err = h.store.SetMailAddress(ctx, userID, *user.MailAddress, req.DisplayName)
		}
		if err != nil {
			slog.ErrorContext(ctx, "SettingsHandler: failed to save display name", sloki.WrapError(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	WriteJSONResponse(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

func validateSettingsRequest(req *models.UserSettingsRequest) error {
	if req.PaginationPerPage < 1 || req.PaginationPerPage > mailbox.MaxPerPage {
		return errors.New("pagination_per_page must be between 1 and 200")
	}
	if len(req.DisplayName) > 128 {
		return errors.New("display_name is too long")
	}
	return nil
}
