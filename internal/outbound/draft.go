package outbound

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/vdavid/vrelay/internal/htmlstrip"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/storage"
)

// Upload is an attachment supplied with a compose request.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Draft is the user-supplied content of an outbound message.
// ID, when set, names an existing draft to update instead of creating a new one.
type Draft struct {
	ID          string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Upload
	InReplyTo   string
	References  []string
}

// SchedulePatch changes a scheduled message. Nil fields are left as they are;
// attachments are added to the existing ones.
type SchedulePatch struct {
	At          *time.Time
	To          []string
	CC          []string
	BCC         []string
	Subject     *string
	Text        *string
	HTML        *string
	Attachments []Upload
}

func parseRecipients(raw []string) ([]models.Participant, error) {
	out := make([]models.Participant, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, entry)
		}
		for _, a := range addrs {
			out = append(out, models.NewParticipant(strings.ToLower(a.Address), a.Name))
		}
	}
	return out, nil
}

// applyContent copies the draft's content fields onto msg.
func applyContent(msg *models.Message, d Draft) error {
	to, err := parseRecipients(d.To)
	if err != nil {
		return err
	}
	cc, err := parseRecipients(d.CC)
	if err != nil {
		return err
	}
	bcc, err := parseRecipients(d.BCC)
	if err != nil {
		return err
	}

	msg.To, msg.CC, msg.BCC = to, cc, bcc
	msg.Subject = d.Subject
	msg.HTMLBody = d.HTML
	msg.TextBody = d.Text
	if msg.TextBody == "" && msg.HTMLBody != "" {
		msg.TextBody = htmlstrip.Text(msg.HTMLBody)
	}
	if d.InReplyTo != "" {
		msg.InReplyTo = d.InReplyTo
	}
	msg.AppendReferences(d.References...)
	return nil
}

func hasRecipients(msg *models.Message) bool {
	return len(msg.To)+len(msg.CC)+len(msg.BCC) > 0
}

// storeUploads persists uploads and records them on msg. It returns the provider
// attachments for uploads that are new to msg.
func (o *Orchestrator) storeUploads(ctx context.Context, msg *models.Message, uploads []Upload) ([]provider.Attachment, error) {
	var out []provider.Attachment
	for _, u := range uploads {
		name := storage.SanitizeFilename(u.Filename)
		if msg.HasAttachment(name) {
			continue
		}
		mimeType := u.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		contentURL, err := o.bucket.Store(ctx, u.Data, name, mimeType)
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment %q: %w", name, err)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:   name,
			MimeType:   mimeType,
			SizeBytes:  int64(len(u.Data)),
			ContentURL: &contentURL,
		})
		out = append(out, provider.Attachment{Filename: name, MimeType: mimeType, Data: u.Data})
	}
	return out, nil
}

// loadAttachments reads back every stored attachment of msg.
func (o *Orchestrator) loadAttachments(ctx context.Context, msg *models.Message) ([]provider.Attachment, error) {
	out := make([]provider.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		if a.ContentURL == nil {
			continue
		}
		data, err := o.bucket.Fetch(ctx, *a.ContentURL)
		if err != nil {
			return nil, fmt.Errorf("failed to load attachment %q: %w", a.Filename, err)
		}
		out = append(out, provider.Attachment{Filename: a.Filename, MimeType: a.MimeType, Data: data})
	}
	return out, nil
}

// sender builds the From participant for the user's provisioned mailbox.
func (o *Orchestrator) sender(ctx context.Context, userID string) (models.Participant, error) {
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return models.Participant{}, fmt.Errorf("failed to load sender: %w", err)
	}
	if user.MailAddress == nil {
		return models.Participant{}, ErrNoMailbox
	}
	return models.NewParticipant(*user.MailAddress, user.DisplayName), nil
}

// draftFor returns the stored draft named by id, or a fresh unsaved message.
func (o *Orchestrator) draftFor(ctx context.Context, userID, id string) (msg *models.Message, existing bool, err error) {
	if id == "" {
		newID, err := o.guard.NewLocalID(ctx)
		if err != nil {
			return nil, false, err
		}
		return &models.Message{ID: newID, UserID: userID, Labels: []string{}}, false, nil
	}

	msg, err = o.load(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}
	if msg.Status != models.StatusDraft || msg.Folder != models.FolderDrafts {
		return nil, false, ErrNotDraft
	}
	return msg, true, nil
}

func (o *Orchestrator) save(ctx context.Context, msg *models.Message, existing bool) error {
	if existing {
		if err := o.store.UpdateMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return nil
	}
	created, err := o.guard.Claim(ctx, msg)
	if err != nil {
		return err
	}
	if !created {
		return errors.New("failed to save message: id already in use")
	}
	return nil
}

// formatAddress renders p so that parseRecipients reads it back unchanged.
func formatAddress(p models.Participant) string {
	return (&mail.Address{Name: p.Name, Address: p.Address}).String()
}
