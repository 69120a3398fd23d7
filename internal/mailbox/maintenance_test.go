package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/models"
)

func TestService_FixWebmailURLs(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	alice := store.AddUser("alice@gmail.com", "alice@vrelay.test")
	bob := store.AddUser("bob@gmail.com", "bob@vrelay.test")

	gmail := "https://mail.google.com/mail/u/0/?ui=2&ik=abc&attid=0.1&view=att"
	direct := "https://files.vrelay.test/a.pdf"
	withLinks := func(links ...string) func(m *models.Message) {
		return func(m *models.Message) {
			for _, l := range links {
				m.Attachments = append(m.Attachments, models.Attachment{Filename: "a.pdf", MimeType: "application/pdf", ContentURL: &l})
			}
			m.Attachments = append(m.Attachments, models.Attachment{Filename: "pending.bin"})
		}
	}
	stale := seedMessage(t, store, alice, withLinks(gmail, direct))
	fine := seedMessage(t, store, alice, withLinks(direct))
	others := seedMessage(t, store, bob, withLinks(gmail))

	updated, err := svc.FixWebmailURLs(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	msg, err := store.GetMessage(ctx, alice, stale)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 3)
	assert.Contains(t, *msg.Attachments[0].ContentURL, "https://mail-attachment.googleusercontent.com/attachment/u/0/")
	assert.Equal(t, direct, *msg.Attachments[1].ContentURL)
	assert.Nil(t, msg.Attachments[2].ContentURL)

	msg, err = store.GetMessage(ctx, alice, fine)
	require.NoError(t, err)
	assert.Equal(t, direct, *msg.Attachments[0].ContentURL)

	msg, err = store.GetMessage(ctx, bob, others)
	require.NoError(t, err)
	assert.Equal(t, gmail, *msg.Attachments[0].ContentURL, "only the caller's messages are touched")

	updated, err = svc.FixWebmailURLs(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, updated, "a second run finds nothing to fix")
}
