package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
)

// MessagesHandler exposes the mailbox state machine.
type MessagesHandler struct {
	store   db.Store
	mailbox *mailbox.Service
}

func NewMessagesHandler(store db.Store, svc *mailbox.Service) *MessagesHandler {
	return &MessagesHandler{store: store, mailbox: svc}
}

// List returns one page of a folder.
// Query: folder, page, limit, search, label, is_read.
func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, limit := ParsePaginationParams(r, 0)
	opts := mailbox.ListOptions{
		Folder: q.Get("folder"),
		Label:  q.Get("label"),
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	}
	if v := q.Get("is_read"); v != "" {
		isRead, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "is_read must be true or false", http.StatusBadRequest)
			return
		}
		opts.IsRead = &isRead
	}

	resp, err := h.mailbox.List(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, r, "MessagesHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, resp)
}

// ListByCategory returns one page of messages with the category in the path.
func (h *MessagesHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	page, limit := ParsePaginationParams(r, 0)
	resp, err := h.mailbox.ListByCategory(r.Context(), userID, r.PathValue("category"), page, limit)
	if err != nil {
		writeServiceError(w, r, "MessagesHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, resp)
}

func (h *MessagesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	stats, err := h.mailbox.Stats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, "MessagesHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, stats)
}

// Get returns one message and marks it read.
func (h *MessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.Get(r.Context(), userID, id)
	})
}

// Read sets the read flag from {"is_read": bool}, or toggles it when the body is empty.
func (h *MessagesHandler) Read(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsRead *bool `json:"is_read"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		if req.IsRead == nil {
			return h.mailbox.ToggleRead(r.Context(), userID, id)
		}
		return h.mailbox.SetRead(r.Context(), userID, id, *req.IsRead)
	})
}

func (h *MessagesHandler) Star(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.ToggleStar(r.Context(), userID, id)
	})
}

func (h *MessagesHandler) Important(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.ToggleImportant(r.Context(), userID, id)
	})
}

func (h *MessagesHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Folder string `json:"folder"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.Move(r.Context(), userID, id, req.Folder)
	})
}

// Delete moves a message to trash, or removes it for good when it is already there.
func (h *MessagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	permanent, err := h.mailbox.Delete(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "MessagesHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, map[string]bool{"success": true, "permanent": permanent})
}

func (h *MessagesHandler) AddLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.AddLabel(r.Context(), userID, id, req.Label)
	})
}

func (h *MessagesHandler) RemoveLabel(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.RemoveLabel(r.Context(), userID, id, r.PathValue("label"))
	})
}

func (h *MessagesHandler) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.AddCategory(r.Context(), userID, id, req.Category)
	})
}

func (h *MessagesHandler) RemoveCategory(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.RemoveCategory(r.Context(), userID, id, r.PathValue("category"))
	})
}

// Snooze takes {"until": RFC 3339 time}.
func (h *MessagesHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Until time.Time `json:"until"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.Snooze(r.Context(), userID, id, req.Until)
	})
}

func (h *MessagesHandler) Unsnooze(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, func(userID, id string) (*models.Message, error) {
		return h.mailbox.Unsnooze(r.Context(), userID, id)
	})
}

// withMessage resolves the caller and the {id} path value, runs fn and writes the message it returns.
func (h *MessagesHandler) withMessage(w http.ResponseWriter, r *http.Request, fn func(userID, id string) (*models.Message, error)) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	msg, err := fn(userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "MessagesHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, msg)
}
