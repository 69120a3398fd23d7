package api

import (
	"log/slog"
	"net/http"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/models"
)

type AuthHandler struct {
	store db.Store
}

func NewAuthHandler(store db.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

// GetAuthStatus reports setup as complete once the user has a mailbox address.
func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.store)
	if !ok {
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "AuthHandler: failed to load user", sloki.WrapError(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, r, http.StatusOK, models.AuthStatusResponse{
		IsAuthenticated: true,
		IsSetupComplete: user.MailAddress != nil,
	})
}
