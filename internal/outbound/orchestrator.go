// Package outbound sends, drafts and schedules mail on behalf of mailbox owners.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrProviderNotConfigured is a deployment problem, not a transient failure.
	ErrProviderNotConfigured = errors.New("mail provider is not configured")
	ErrSendFailed            = errors.New("failed to send message")
	ErrNoMailbox             = errors.New("sender has no mailbox address")
	ErrNoRecipients          = errors.New("message has no recipients")
	ErrInvalidRecipient      = errors.New("invalid recipient address")
	ErrNotDraft              = errors.New("message is not a draft")
	ErrNotScheduled          = errors.New("message is not scheduled")
	ErrScheduleInPast        = errors.New("scheduled time must be in the future")
)

// Options carries deployment-wide send behavior.
type Options struct {
	MailDomain string
	// InternalFallback mirrors direct sends into local recipients' inboxes.
	InternalFallback bool
	// InternalFallbackReplies is the default for replies when the user has no setting.
	InternalFallbackReplies bool
}

// Orchestrator drives a message from draft through the provider to sent or failed.
type Orchestrator struct {
	store    db.Store
	guard    *dedup.Guard
	resolver *mailbox.Resolver
	provider provider.Provider
	bucket   storage.Bucket
	notifier mailbox.Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(
	store db.Store,
	guard *dedup.Guard,
	resolver *mailbox.Resolver,
	p provider.Provider,
	bucket storage.Bucket,
	notifier mailbox.Notifier,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	opts.MailDomain = strings.ToLower(opts.MailDomain)
	return &Orchestrator{
		store:    store,
		guard:    guard,
		resolver: resolver,
		provider: p,
		bucket:   bucket,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (o *Orchestrator) load(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := o.store.GetMessage(ctx, userID, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		return nil, mailbox.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// prepare builds a message from d, ready to be persisted. Stored drafts named by d.ID are
// reused. When readBack is set, attachments the draft already holds are fetched from storage
// so they can be sent along with the new uploads.
func (o *Orchestrator) prepare(ctx context.Context, userID string, d Draft, readBack bool) (*models.Message, []provider.Attachment, bool, error) {
	from, err := o.sender(ctx, userID)
	if err != nil {
		return nil, nil, false, err
	}
	msg, existing, err := o.draftFor(ctx, userID, d.ID)
	if err != nil {
		return nil, nil, false, err
	}
	if err := applyContent(msg, d); err != nil {
		return nil, nil, false, err
	}
	msg.From = from

	var atts []provider.Attachment
	if readBack {
		if atts, err = o.loadAttachments(ctx, msg); err != nil {
			return nil, nil, false, err
		}
	}
	uploaded, err := o.storeUploads(ctx, msg, d.Attachments)
	if err != nil {
		return nil, nil, false, err
	}
	return msg, append(atts, uploaded...), existing, nil
}

// Send persists the message as an in-flight record in sent, hands it to the provider
// and records the outcome. Local recipients get a mirrored inbox copy when enabled.
func (o *Orchestrator) Send(ctx context.Context, userID string, d Draft) (*models.Message, error) {
	return o.send(ctx, userID, d, o.opts.InternalFallback)
}

func (o *Orchestrator) send(ctx context.Context, userID string, d Draft, fallback bool) (*models.Message, error) {
	msg, atts, existing, err := o.prepare(ctx, userID, d, true)
	if err != nil {
		return nil, err
	}
	if !hasRecipients(msg) {
		return nil, ErrNoRecipients
	}

	msg.Status = models.StatusDraft
	msg.MoveTo(models.FolderSent, o.now())
	msg.ScheduledSendAt = nil
	if err := o.save(ctx, msg, existing); err != nil {
		return nil, err
	}

	if err := o.deliver(ctx, msg, atts, fallback); err != nil {
		return msg, err
	}
	return msg, nil
}

// Reply sends a message threaded to the original. Recipients default to the original sender.
func (o *Orchestrator) Reply(ctx context.Context, userID, originalID string, d Draft) (*models.Message, error) {
	original, err := o.load(ctx, userID, originalID)
	if err != nil {
		return nil, err
	}

	if len(d.To) == 0 {
		if original.Folder == models.FolderSent {
			for _, p := range original.To {
				d.To = append(d.To, formatAddress(p))
			}
		} else {
			d.To = []string{formatAddress(original.From)}
		}
	}
	if d.Subject == "" {
		d.Subject = replySubject(original.Subject)
	}
	d.References = append(append([]string{}, original.References...), d.References...)
	if original.ProviderMessageID != nil {
		d.InReplyTo = *original.ProviderMessageID
		d.References = append(d.References, *original.ProviderMessageID)
	}

	return o.send(ctx, userID, d, o.replyFallback(ctx, userID))
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func (o *Orchestrator) replyFallback(ctx context.Context, userID string) bool {
	settings, err := o.store.GetUserSettings(ctx, userID)
	if err != nil {
		return o.opts.InternalFallbackReplies
	}
	return settings.InternalFallbackReplies
}

// SaveDraft creates or updates a draft in the drafts folder. Recipients are optional.
func (o *Orchestrator) SaveDraft(ctx context.Context, userID string, d Draft) (*models.Message, error) {
	msg, _, existing, err := o.prepare(ctx, userID, d, false)
	if err != nil {
		return nil, err
	}
	msg.Status = models.StatusDraft
	msg.MoveTo(models.FolderDrafts, o.now())
	if err := o.save(ctx, msg, existing); err != nil {
		return nil, err
	}
	return msg, nil
}

// Schedule stores the message for the sweeper to send at the given time.
func (o *Orchestrator) Schedule(ctx context.Context, userID string, d Draft, at time.Time) (*models.Message, error) {
	if !at.After(o.now()) {
		return nil, ErrScheduleInPast
	}
	msg, _, existing, err := o.prepare(ctx, userID, d, false)
	if err != nil {
		return nil, err
	}
	if !hasRecipients(msg) {
		return nil, ErrNoRecipients
	}

	at = at.UTC()
	msg.Status = models.StatusScheduled
	msg.MoveTo(models.FolderScheduled, o.now())
	msg.ScheduledSendAt = &at
	if err := o.save(ctx, msg, existing); err != nil {
		return nil, err
	}
	return msg, nil
}

func (o *Orchestrator) loadScheduled(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := o.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != models.StatusScheduled {
		return nil, ErrNotScheduled
	}
	return msg, nil
}

// CancelSchedule turns a scheduled message back into a draft.
func (o *Orchestrator) CancelSchedule(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := o.loadScheduled(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msg.Status = models.StatusDraft
	msg.MoveTo(models.FolderDrafts, o.now())
	msg.ScheduledSendAt = nil
	if err := o.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// UpdateSchedule edits a message that is still waiting to be sent.
func (o *Orchestrator) UpdateSchedule(ctx context.Context, userID, id string, patch SchedulePatch) (*models.Message, error) {
	msg, err := o.loadScheduled(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.At != nil {
		if !patch.At.After(o.now()) {
			return nil, ErrScheduleInPast
		}
		at := patch.At.UTC()
		msg.ScheduledSendAt = &at
	}
	for _, f := range []struct {
		raw []string
		dst *[]models.Participant
	}{{patch.To, &msg.To}, {patch.CC, &msg.CC}, {patch.BCC, &msg.BCC}} {
		if f.raw == nil {
			continue
		}
		parsed, err := parseRecipients(f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = parsed
	}
	if !hasRecipients(msg) {
		return nil, ErrNoRecipients
	}
	if patch.Subject != nil {
		msg.Subject = *patch.Subject
	}
	if patch.HTML != nil {
		msg.HTMLBody = *patch.HTML
	}
	if patch.Text != nil {
		msg.TextBody = *patch.Text
	}
	if _, err := o.storeUploads(ctx, msg, patch.Attachments); err != nil {
		return nil, err
	}

	if err := o.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// DeliverScheduled sends one due scheduled message. The message leaves the scheduled
// state before the provider is called, so a failure never leaves it scheduled. The
// claim only succeeds while the stored message is still scheduled: a message cancelled
// or already claimed since it was listed returns ErrNotScheduled and is not sent.
func (o *Orchestrator) DeliverScheduled(ctx context.Context, listed *models.Message) error {
	if listed.Status != models.StatusScheduled {
		return ErrNotScheduled
	}
	claimed, err := o.store.ClaimScheduled(ctx, listed.UserID, listed.ID)
	if err != nil {
		return fmt.Errorf("failed to claim scheduled message: %w", err)
	}
	if !claimed {
		return ErrNotScheduled
	}
	msg, err := o.store.GetMessage(ctx, listed.UserID, listed.ID)
	if err != nil {
		return fmt.Errorf("failed to load claimed message: %w", err)
	}

	atts, err := o.loadAttachments(ctx, msg)
	if err != nil {
		o.markFailed(ctx, msg)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return o.deliver(ctx, msg, atts, o.opts.InternalFallback)
}

// deliver calls the provider for a persisted in-flight message and writes back the result.
func (o *Orchestrator) deliver(ctx context.Context, msg *models.Message, atts []provider.Attachment, fallback bool) error {
	ctx, span := otel.Tracer("vrelay-outbound").Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", msg.ID), attribute.Int("message.recipients", len(msg.To)+len(msg.CC)+len(msg.BCC)))

	result, err := o.provider.Send(ctx, provider.OutboundMessage{
		From:        msg.From,
		To:          msg.To,
		CC:          msg.CC,
		BCC:         msg.BCC,
		Subject:     msg.Subject,
		Text:        msg.TextBody,
		HTML:        msg.HTMLBody,
		Attachments: atts,
		InReplyTo:   msg.InReplyTo,
		References:  msg.References,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.markFailed(ctx, msg)
		if errors.Is(err, provider.ErrNotConfigured) {
			return ErrProviderNotConfigured
		}
		o.logger.ErrorContext(ctx, "Outbound: provider rejected message",
			slog.String("message_id", msg.ID), sloki.WrapError(err))
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	msg.MarkSent(result.ID, o.now())
	err = o.store.UpdateMessage(ctx, msg)
	if errors.Is(err, db.ErrDuplicateProviderMessageID) {
		// A webhook copy of a self-addressed message already owns the id.
		o.logger.InfoContext(ctx, "Outbound: provider message id already stored, recording sent copy without it",
			slog.String("message_id", msg.ID), slog.String("provider_message_id", result.ID))
		msg.ProviderMessageID = nil
		err = o.store.UpdateMessage(ctx, msg)
	}
	if err != nil {
		// The provider accepted it, so it is sent regardless of the write-back.
		o.logger.ErrorContext(ctx, "Outbound: failed to record sent message",
			slog.String("message_id", msg.ID), sloki.WrapError(err))
	}
	o.logger.InfoContext(ctx, "Outbound: message sent",
		slog.String("message_id", msg.ID), slog.String("provider_message_id", result.ID))

	if fallback {
		o.mirror(ctx, msg)
	}
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, msg *models.Message) {
	msg.Status = models.StatusFailed
	if err := o.store.UpdateMessage(ctx, msg); err != nil {
		o.logger.ErrorContext(ctx, "Outbound: failed to record send failure",
			slog.String("message_id", msg.ID), sloki.WrapError(err))
	}
}
