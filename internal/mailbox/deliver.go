package mailbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/inbound"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DeliveryResult summarizes what happened to each recipient of one inbound payload.
type DeliveryResult struct {
	// Created holds the ids of new messages, one per resolved mailbox.
	Created    []string
	Duplicates int
	Unknown    []string
	Failed     int
}

// FirstID returns the id of the first created message, or "".
func (r DeliveryResult) FirstID() string {
	if len(r.Created) == 0 {
		return ""
	}
	return r.Created[0]
}

// Deliver files a normalized message into the mailbox of every resolvable recipient.
// Unknown recipients and duplicates are dropped; a store failure for one recipient does
// not stop delivery to the others.
func (s *Service) Deliver(ctx context.Context, n *inbound.Normalized) DeliveryResult {
	ctx, span := otel.Tracer("vrelay-mailbox").Start(ctx, "Deliver")
	defer span.End()

	var result DeliveryResult
	seen := map[string]bool{}
	for _, recipient := range n.Recipients {
		ownerID, err := s.resolver.Resolve(ctx, recipient)
		if errors.Is(err, ErrMailboxNotFound) {
			s.logger.InfoContext(ctx, "Inbound: dropping mail for unknown recipient", slog.String("recipient", recipient))
			result.Unknown = append(result.Unknown, recipient)
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "Inbound: failed to resolve recipient",
				slog.String("recipient", recipient), sloki.WrapError(err))
			result.Failed++
			continue
		}
		if seen[ownerID] {
			continue
		}
		seen[ownerID] = true

		msg := n.Message.Clone()
		msg.ID = ""
		msg.UserID = ownerID

		created, err := s.guard.Claim(ctx, msg)
		switch {
		case err != nil:
			s.logger.ErrorContext(ctx, "Inbound: failed to store message",
				slog.String("recipient", recipient), sloki.WrapError(err))
			result.Failed++
		case !created:
			s.logger.InfoContext(ctx, "Inbound: duplicate delivery ignored",
				slog.String("recipient", recipient), slog.String("provider_message_id", n.ProviderMessageID))
			result.Duplicates++
		default:
			result.Created = append(result.Created, msg.ID)
			if s.notifier != nil {
				s.notifier.NotifyNewMessage(msg)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("delivery.created", len(result.Created)),
		attribute.Int("delivery.duplicates", result.Duplicates),
		attribute.Int("delivery.unknown", len(result.Unknown)),
	)
	return result
}
