package outbound

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
)

// localRecipients returns the distinct envelope addresses on the mail domain.
func (o *Orchestrator) localRecipients(msg *models.Message) []string {
	suffix := "@" + o.opts.MailDomain
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]models.Participant{msg.To, msg.CC, msg.BCC} {
		for _, p := range list {
			addr := strings.ToLower(p.Address)
			if !strings.HasSuffix(addr, suffix) || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// mirror files an inbox copy of a sent message for every local recipient whose
// mailbox has not already received it through the webhook.
func (o *Orchestrator) mirror(ctx context.Context, sent *models.Message) {
	if o.opts.MailDomain == "" || sent.ProviderMessageID == nil {
		return
	}
	providerID := *sent.ProviderMessageID

	// Several recipient addresses can resolve to one mailbox.
	var order []string
	owners := map[string][]string{}
	for _, addr := range o.localRecipients(sent) {
		ownerID, err := o.resolver.Resolve(ctx, addr)
		if errors.Is(err, mailbox.ErrMailboxNotFound) {
			continue
		}
		if err != nil {
			o.logger.WarnContext(ctx, "Outbound: failed to resolve local recipient",
				slog.String("recipient", addr), sloki.WrapError(err))
			continue
		}
		if _, ok := owners[ownerID]; !ok {
			order = append(order, ownerID)
		}
		owners[ownerID] = append(owners[ownerID], addr)
	}

	for _, ownerID := range order {
		addrs := owners[ownerID]
		delivered, err := o.guard.AlreadyDelivered(ctx, ownerID, providerID)
		if err != nil {
			o.logger.WarnContext(ctx, "Outbound: failed to check for existing delivery",
				slog.String("recipient", addrs[0]), sloki.WrapError(err))
			continue
		}
		if delivered {
			continue
		}

		copyMsg := inboxCopy(sent, ownerID, addrs, o.now())
		created, err := o.guard.Claim(ctx, copyMsg)
		if err != nil {
			o.logger.WarnContext(ctx, "Outbound: failed to mirror message",
				slog.String("recipient", addrs[0]), sloki.WrapError(err))
			continue
		}
		if created && o.notifier != nil {
			o.notifier.NotifyNewMessage(copyMsg)
		}
	}
}

// inboxCopy is the recipient's view of a sent message. The blind copy list is reduced
// to the recipient's own addresses, as a delivered message would show it.
func inboxCopy(sent *models.Message, ownerID string, ownerAddrs []string, now time.Time) *models.Message {
	c := sent.Clone()
	c.ID = ""
	c.UserID = ownerID
	c.BCC = slices.DeleteFunc(c.BCC, func(p models.Participant) bool {
		return !slices.Contains(ownerAddrs, strings.ToLower(p.Address))
	})
	c.Folder = models.FolderInbox
	c.Status = models.StatusDelivered
	c.Labels = []string{}
	c.Categories = []string{}
	c.IsRead = false
	c.IsStarred = false
	c.IsImportant = false
	c.ReadAt = nil
	c.DeletedAt = nil
	c.ScheduledSendAt = nil
	c.SnoozeUntil = nil
	received := now
	c.ReceivedAt = &received
	return c
}
