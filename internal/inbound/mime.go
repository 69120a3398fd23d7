package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/vrelay/internal/storage"
)

var rawMIMEKeys = []string{"body-mime", "message-mime", "raw"}

// mimeContent is what a raw MIME field contributes to a message.
type mimeContent struct {
	text        string
	html        string
	messageID   string
	inReplyTo   string
	references  string
	attachments []candidate
}

// parseRawMIME parses the provider's full-message field with enmime, when one is present.
// Attachment parts are uploaded to the store; an upload failure keeps the attachment with no URL.
func parseRawMIME(ctx context.Context, logger *slog.Logger, store storage.ObjectStore, p *Payload) (*mimeContent, error) {
	raw := firstRaw(p, rawMIMEKeys...)
	if raw == "" {
		return nil, nil
	}

	envelope, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw MIME: %w", err)
	}

	content := &mimeContent{
		text:       envelope.Text,
		html:       envelope.HTML,
		messageID:  strings.TrimSpace(envelope.GetHeader("Message-Id")),
		inReplyTo:  strings.TrimSpace(envelope.GetHeader("In-Reply-To")),
		references: envelope.GetHeader("References"),
	}

	parts := slices.Concat(envelope.Attachments, envelope.Inlines)
	for i, part := range parts {
		filename := part.FileName
		if filename == "" {
			filename = indexedFallbackName(i + 1)
		}
		filename = storage.SanitizeFilename(filename)
		mimeType := part.ContentType
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = MimeTypeFor(filename)
		}

		var contentURL string
		if store != nil && len(part.Content) > 0 {
			u, err := store.Store(ctx, part.Content, filename, mimeType)
			if err != nil {
				logger.WarnContext(ctx, "Inbound: failed to store MIME attachment",
					slog.String("filename", filename), sloki.WrapError(err))
			} else {
				contentURL = u
			}
		}
		content.attachments = append(content.attachments, candidate{
			att: newAttachment(filename, mimeType, int64(len(part.Content)), contentURL),
		})
	}

	return content, nil
}
