package api

import (
	"net/http"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
)

// AddressHandler checks and provisions mailbox addresses.
type AddressHandler struct {
	store       db.Store
	provisioner *mailbox.Provisioner
}

func NewAddressHandler(store db.Store, provisioner *mailbox.Provisioner) *AddressHandler {
	return &AddressHandler{store: store, provisioner: provisioner}
}

// Check reports whether ?address= can be provisioned.
func (h *AddressHandler) Check(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetUserIDFromContext(r.Context(), w, h.store); !ok {
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	check, err := h.provisioner.CheckAddress(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, "AddressHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, check)
}

// Setup assigns {"address", "display_name"} to the caller's mailbox.
func (h *AddressHandler) Setup(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	var req struct {
		Address     string `json:"address"`
		DisplayName string `json:"display_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.provisioner.Provision(r.Context(), userID, req.Address, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, "AddressHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, user)
}
