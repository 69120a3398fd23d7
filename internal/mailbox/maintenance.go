package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/inbound"
)

const backfillPageSize = 100

// FixWebmailURLs rewrites stored attachment links that still point at a webmail viewer
// into direct download links. It returns how many messages were updated.
func (s *Service) FixWebmailURLs(ctx context.Context, userID string) (int, error) {
	updated := 0
	for offset := 0; ; offset += backfillPageSize {
		page, total, err := s.store.ListMessages(ctx, db.MessageFilter{UserID: userID, Limit: backfillPageSize, Offset: offset})
		if err != nil {
			return updated, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, msg := range page {
			if !inbound.RewriteAttachmentURLs(msg.Attachments) {
				continue
			}
			if err := s.store.UpdateMessage(ctx, msg); err != nil {
				return updated, fmt.Errorf("failed to update message %s: %w", msg.ID, err)
			}
			updated++
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	s.logger.InfoContext(ctx, "Mailbox: rewrote webmail attachment links",
		slog.String("user_id", userID), slog.Int("updated", updated))
	return updated, nil
}
