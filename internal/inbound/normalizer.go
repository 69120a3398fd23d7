// Package inbound turns best-effort provider webhook payloads into canonical messages.
//
// Each logical field is extracted by a prioritized list of rules that can be tested on
// their own. Attachments are the union of several discovery rules, deduplicated by filename.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/autolabel"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	ReasonNoRecipient Reason = "no_recipient"
	ReasonInternal    Reason = "internal_error"
)

// ErrNoRecipient is wrapped by the rejection for payloads without a resolvable recipient.
var ErrNoRecipient = errors.New("no recipient in payload")

// RejectError is returned instead of a message when a payload cannot be normalized.
type RejectError struct {
	Reason Reason
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("payload rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// Normalized is a candidate message produced from a payload.
// Message.ID and Message.UserID are left for the mailbox to assign.
type Normalized struct {
	Message           *models.Message
	Recipients        []string
	ProviderMessageID string
	SynthesizedID     bool
	IsSpam            bool
}

// Normalizer applies the extraction rules.
type Normalizer struct {
	mailDomain string
	store      storage.ObjectStore
	classifier *autolabel.Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewNormalizer creates a normalizer. store and classifier may be nil.
func NewNormalizer(mailDomain string, store storage.ObjectStore, classifier *autolabel.Classifier, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		mailDomain: mailDomain,
		store:      store,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Normalize extracts a candidate message. It never panics: unexpected failures are
// returned as a *RejectError with ReasonInternal.
func (n *Normalizer) Normalize(ctx context.Context, p *Payload) (result *Normalized, err error) {
	ctx, span := otel.Tracer("vrelay-inbound").Start(ctx, "Normalize")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &RejectError{Reason: ReasonInternal, Err: fmt.Errorf("panic during normalization: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if p == nil {
		return nil, &RejectError{Reason: ReasonNoRecipient, Err: ErrNoRecipient}
	}

	recipients := resolveRecipients(p)
	if len(recipients) == 0 {
		return nil, &RejectError{Reason: ReasonNoRecipient, Err: ErrNoRecipient}
	}

	now := n.now()
	received := resolveTimestamp(p, now)
	text, html := resolveBodies(p)
	inReplyTo, references := resolveThreading(p)
	spamScore, isSpam := resolveSpam(p)

	attachments := newAttachmentSet()
	for _, rule := range metadataRules {
		for _, c := range rule.apply(p) {
			attachments.add(c)
		}
	}

	// Raw MIME fills what the flat fields left out.
	mimeContent, mimeErr := parseRawMIME(ctx, n.logger, n.store, p)
	if mimeErr != nil {
		n.logger.WarnContext(ctx, "Inbound: ignoring unparseable raw MIME field", sloki.WrapError(mimeErr))
	}
	if mimeContent != nil {
		if text == "" {
			text = mimeContent.text
		}
		if html == "" {
			html = mimeContent.html
			if html == "" {
				html = text
			}
		}
		if inReplyTo == "" {
			inReplyTo = mimeContent.inReplyTo
		}
		if len(references) == 0 && mimeContent.references != "" {
			_, references = resolveThreading(NewPayload(map[string]string{"References": mimeContent.references}))
		}
		for _, c := range mimeContent.attachments {
			attachments.add(c)
		}
	}

	storeUploads(ctx, n.logger, n.store, attachments, p.Files)
	RewriteAttachmentURLs(attachments.items)

	providerID, synthesized := resolveMessageID(p, now, n.mailDomain)
	if synthesized && mimeContent != nil && mimeContent.messageID != "" {
		providerID, synthesized = mimeContent.messageID, false
	}

	to := parseParticipants(p.First("To", "to"))
	if len(to) == 0 {
		for _, r := range recipients {
			to = append(to, models.NewParticipant(r, ""))
		}
	}

	folder := models.FolderInbox
	if isSpam {
		folder = models.FolderSpam
	}

	msg := &models.Message{
		From:        resolveSender(p),
		To:          to,
		CC:          parseParticipants(p.First(ccKeys...)),
		BCC:         parseParticipants(p.First(bccKeys...)),
		Subject:     resolveSubject(p),
		TextBody:    text,
		HTMLBody:    html,
		Folder:      folder,
		Status:      models.StatusDelivered,
		Labels:      []string{},
		InReplyTo:   inReplyTo,
		References:  references,
		Attachments: attachments.items,
		SpamScore:   spamScore,
		ReceivedAt:  &received,
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	for _, category := range n.classifier.Classify(msg.Subject, msg.TextBody, msg.From.Address) {
		msg.AddLabel(category)
	}
	msg.Categories = models.CategoriesOf(msg.Labels)
	msg.ProviderMessageID = &providerID

	span.SetAttributes(
		attribute.Int("inbound.recipients", len(recipients)),
		attribute.Int("inbound.attachments", len(msg.Attachments)),
		attribute.Bool("inbound.spam", isSpam),
	)

	return &Normalized{
		Message:           msg,
		Recipients:        recipients,
		ProviderMessageID: providerID,
		SynthesizedID:     synthesized,
		IsSpam:            isSpam,
	}, nil
}
