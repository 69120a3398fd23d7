package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/outbound"
)

const maxComposeBytes = 25 << 20

// ComposeHandler sends, drafts and schedules outbound mail.
type ComposeHandler struct {
	store        db.Store
	orchestrator *outbound.Orchestrator
	mailbox      *mailbox.Service
}

func NewComposeHandler(store db.Store, orchestrator *outbound.Orchestrator, svc *mailbox.Service) *ComposeHandler {
	return &ComposeHandler{store: store, orchestrator: orchestrator, mailbox: svc}
}

type composeAttachment struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mime_type"`
	ContentBase64 string `json:"content_base64"`
}

// composeRequest is the JSON form of a compose request. Multipart requests use the same
// field names, with recipient lists comma-separated and files under "attachments".
type composeRequest struct {
	DraftID     string              `json:"draft_id"`
	To          []string            `json:"to"`
	CC          []string            `json:"cc"`
	BCC         []string            `json:"bcc"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	InReplyTo   string              `json:"in_reply_to"`
	References  []string            `json:"references"`
	SendAt      *time.Time          `json:"send_at"`
	Attachments []composeAttachment `json:"attachments"`
}

// schedulePatchRequest carries only the fields being changed.
type schedulePatchRequest struct {
	SendAt      *time.Time          `json:"send_at"`
	To          []string            `json:"to"`
	CC          []string            `json:"cc"`
	BCC         []string            `json:"bcc"`
	Subject     *string             `json:"subject"`
	Text        *string             `json:"text"`
	HTML        *string             `json:"html"`
	Attachments []composeAttachment `json:"attachments"`
}

func decodeUploads(atts []composeAttachment) ([]outbound.Upload, error) {
	out := make([]outbound.Upload, 0, len(atts))
	for _, a := range atts {
		data, err := base64.StdEncoding.DecodeString(a.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("attachment %q is not valid base64", a.Filename)
		}
		out = append(out, outbound.Upload{Filename: a.Filename, MimeType: a.MimeType, Data: data})
	}
	return out, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseCompose reads a JSON or multipart compose request.
func parseCompose(w http.ResponseWriter, r *http.Request) (outbound.Draft, *time.Time, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxComposeBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		return parseMultipartCompose(r)
	}

	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return outbound.Draft{}, nil, fmt.Errorf("invalid request body")
	}
	uploads, err := decodeUploads(req.Attachments)
	if err != nil {
		return outbound.Draft{}, nil, err
	}
	return outbound.Draft{
		ID:          req.DraftID,
		To:          req.To,
		CC:          req.CC,
		BCC:         req.BCC,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		InReplyTo:   req.InReplyTo,
		References:  req.References,
		Attachments: uploads,
	}, req.SendAt, nil
}

func parseMultipartCompose(r *http.Request) (outbound.Draft, *time.Time, error) {
	if err := r.ParseMultipartForm(maxComposeBytes); err != nil {
		return outbound.Draft{}, nil, fmt.Errorf("invalid multipart body")
	}
	form := r.MultipartForm
	first := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	d := outbound.Draft{
		ID:         first("draft_id"),
		To:         splitList(form.Value["to"]),
		CC:         splitList(form.Value["cc"]),
		BCC:        splitList(form.Value["bcc"]),
		Subject:    first("subject"),
		Text:       first("text"),
		HTML:       first("html"),
		InReplyTo:  first("in_reply_to"),
		References: strings.Fields(first("references")),
	}
	for _, fh := range form.File["attachments"] {
		f, err := fh.Open()
		if err != nil {
			return outbound.Draft{}, nil, fmt.Errorf("unreadable attachment %q", fh.Filename)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return outbound.Draft{}, nil, fmt.Errorf("unreadable attachment %q", fh.Filename)
		}
		d.Attachments = append(d.Attachments, outbound.Upload{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	var sendAt *time.Time
	if v := first("send_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return outbound.Draft{}, nil, fmt.Errorf("send_at must be an RFC 3339 time")
		}
		sendAt = &t
	}
	return d, sendAt, nil
}

// compose parses the request and runs fn with the caller's id.
func (h *ComposeHandler) compose(w http.ResponseWriter, r *http.Request, status int,
	fn func(userID string, d outbound.Draft, sendAt *time.Time) (*models.Message, error)) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	d, sendAt, err := parseCompose(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := fn(userID, d, sendAt)
	if err != nil {
		writeServiceError(w, r, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, r, status, msg)
}

// Send sends a new message, or the draft named by draft_id.
func (h *ComposeHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.compose(w, r, http.StatusOK, func(userID string, d outbound.Draft, _ *time.Time) (*models.Message, error) {
		return h.orchestrator.Send(r.Context(), userID, d)
	})
}

// Reply answers the message in the path.
func (h *ComposeHandler) Reply(w http.ResponseWriter, r *http.Request) {
	h.compose(w, r, http.StatusOK, func(userID string, d outbound.Draft, _ *time.Time) (*models.Message, error) {
		return h.orchestrator.Reply(r.Context(), userID, r.PathValue("id"), d)
	})
}

func (h *ComposeHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	h.compose(w, r, http.StatusOK, func(userID string, d outbound.Draft, _ *time.Time) (*models.Message, error) {
		return h.orchestrator.SaveDraft(r.Context(), userID, d)
	})
}

// Schedule requires send_at.
func (h *ComposeHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	h.compose(w, r, http.StatusCreated, func(userID string, d outbound.Draft, sendAt *time.Time) (*models.Message, error) {
		if sendAt == nil {
			return nil, outbound.ErrScheduleInPast
		}
		return h.orchestrator.Schedule(r.Context(), userID, d, *sendAt)
	})
}

func (h *ComposeHandler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	msg, err := h.orchestrator.CancelSchedule(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, msg)
}

func (h *ComposeHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	var req schedulePatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxComposeBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	uploads, err := decodeUploads(req.Attachments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.orchestrator.UpdateSchedule(r.Context(), userID, r.PathValue("id"), outbound.SchedulePatch{
		At:          req.SendAt,
		To:          req.To,
		CC:          req.CC,
		BCC:         req.BCC,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Attachments: uploads,
	})
	if err != nil {
		writeServiceError(w, r, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, msg)
}

// ListDrafts and ListScheduled are folder listings with the folder fixed.
func (h *ComposeHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	h.listFolder(w, r, models.FolderDrafts)
}

func (h *ComposeHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	h.listFolder(w, r, models.FolderScheduled)
}

func (h *ComposeHandler) listFolder(w http.ResponseWriter, r *http.Request, folder models.Folder) {
	userID, ok := GetUserIDFromContext(r.Context(), w, h.store)
	if !ok {
		return
	}
	page, limit := ParsePaginationParams(r, 0)
	resp, err := h.mailbox.List(r.Context(), userID, mailbox.ListOptions{Folder: string(folder), Page: page, Limit: limit})
	if err != nil {
		writeServiceError(w, r, "ComposeHandler", err)
		return
	}
	WriteJSONResponse(w, r, http.StatusOK, resp)
}
