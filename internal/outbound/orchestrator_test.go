package outbound

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/db/fake"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
	providerfake "github.com/vdavid/vrelay/internal/provider/fake"
	"github.com/vdavid/vrelay/internal/storage"
	"github.com/vdavid/vrelay/internal/testutil/mocks"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	orch    *Orchestrator
	store   *fake.Store
	bucket  *storage.MemoryStore
	aliceID string
	bobID   string
}

func newTestEnv(t *testing.T, p provider.Provider, opts Options) *testEnv {
	t.Helper()
	store := fake.NewStore()
	bucket := storage.NewMemoryStore("https://files.vrelay.test")
	opts.MailDomain = "vrelay.test"
	orch := NewOrchestrator(store, dedup.NewGuard(store), mailbox.NewResolver(store), p, bucket, nil, opts,
		slog.New(slog.DiscardHandler))
	orch.now = func() time.Time { return testNow }

	env := &testEnv{orch: orch, store: store, bucket: bucket}
	env.aliceID = store.AddUser("alice@gmail.com", "alice@vrelay.test")
	env.bobID = store.AddUser("bob@gmail.com", "bob@vrelay.test")
	return env
}

func (e *testEnv) get(t *testing.T, userID, id string) *models.Message {
	t.Helper()
	msg, err := e.store.GetMessage(context.Background(), userID, id)
	require.NoError(t, err)
	return msg
}

func TestSend_Success(t *testing.T) {
	p := providerfake.NewProvider()
	p.NextID = "<sent-1@provider>"
	env := newTestEnv(t, p, Options{})

	msg, err := env.orch.Send(context.Background(), env.aliceID, Draft{
		To:          []string{"Carol <carol@example.com>"},
		Subject:     "Quarterly",
		HTML:        "<p>Numbers <b>attached</b></p>",
		Attachments: []Upload{{Filename: "../q1.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}},
	})
	require.NoError(t, err)

	stored := env.get(t, env.aliceID, msg.ID)
	assert.Equal(t, models.StatusSent, stored.Status)
	assert.Equal(t, models.FolderSent, stored.Folder)
	require.NotNil(t, stored.ProviderMessageID)
	assert.Equal(t, "<sent-1@provider>", *stored.ProviderMessageID)
	require.NotNil(t, stored.SentAt)
	assert.Equal(t, testNow, *stored.SentAt)
	assert.Equal(t, "alice@vrelay.test", stored.From.Address)
	assert.Equal(t, "Numbers attached", stored.TextBody)
	assert.Equal(t, []models.Participant{{Address: "carol@example.com", Name: "Carol"}}, stored.To)

	require.Len(t, stored.Attachments, 1)
	assert.Equal(t, "q1.pdf", stored.Attachments[0].Filename)
	require.NotNil(t, stored.Attachments[0].ContentURL)
	assert.Equal(t, 1, env.bucket.Len())

	require.Len(t, p.Sent, 1)
	require.Len(t, p.Sent[0].Attachments, 1)
	assert.Equal(t, []byte("%PDF"), p.Sent[0].Attachments[0].Data)
}

func TestSend_FailureIsRecorded(t *testing.T) {
	p := providerfake.NewProvider()
	p.SendErr = errors.New("mailbox unavailable")
	env := newTestEnv(t, p, Options{InternalFallback: true})

	msg, err := env.orch.Send(context.Background(), env.aliceID, Draft{To: []string{"bob@vrelay.test"}, Text: "hi"})
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "mailbox unavailable")
	require.NotNil(t, msg)

	stored := env.get(t, env.aliceID, msg.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, models.FolderSent, stored.Folder)
	assert.Nil(t, stored.SentAt)
	assert.Empty(t, env.store.MessagesFor(env.bobID), "failed sends are not mirrored")
}

func TestSend_ProviderNotConfigured(t *testing.T) {
	env := newTestEnv(t, provider.Unconfigured{}, Options{})

	msg, err := env.orch.Send(context.Background(), env.aliceID, Draft{To: []string{"carol@example.com"}})
	require.ErrorIs(t, err, ErrProviderNotConfigured)
	assert.NotErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, models.StatusFailed, env.get(t, env.aliceID, msg.ID).Status)
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv(t, providerfake.NewProvider(), Options{})
	ctx := context.Background()

	_, err := env.orch.Send(ctx, env.aliceID, Draft{Subject: "nobody"})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = env.orch.Send(ctx, env.aliceID, Draft{To: []string{"not an address"}})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	noMailbox := env.store.AddUser("dave@gmail.com", "")
	_, err = env.orch.Send(ctx, noMailbox, Draft{To: []string{"carol@example.com"}})
	assert.ErrorIs(t, err, ErrNoMailbox)

	assert.Empty(t, env.store.MessagesFor(env.aliceID), "rejected sends leave no record")
}

func TestSend_InternalFallbackMirrorsAndDedups(t *testing.T) {
	ctx := context.Background()
	p := providerfake.NewProvider()
	p.NextID = "X"
	env := newTestEnv(t, p, Options{InternalFallback: true})

	_, err := env.orch.Send(ctx, env.aliceID, Draft{
		To:      []string{"bob@vrelay.test", "BOB@vrelay.test"},
		CC:      []string{"ghost@vrelay.test", "carol@example.com"},
		Subject: "Lunch?",
		Text:    "noon",
	})
	require.NoError(t, err)

	bobMsgs := env.store.MessagesFor(env.bobID)
	require.Len(t, bobMsgs, 1)
	mirrored := bobMsgs[0]
	assert.Equal(t, models.FolderInbox, mirrored.Folder)
	assert.Equal(t, models.StatusDelivered, mirrored.Status)
	assert.False(t, mirrored.IsRead)
	require.NotNil(t, mirrored.ProviderMessageID)
	assert.Equal(t, "X", *mirrored.ProviderMessageID)
	assert.Equal(t, "alice@vrelay.test", mirrored.From.Address)

	// The provider's webhook for the same message arrives later and is ignored.
	svc := mailbox.NewService(env.store, dedup.NewGuard(env.store), mailbox.NewResolver(env.store), nil,
		slog.New(slog.DiscardHandler))
	normalizer := inbound.NewNormalizer("vrelay.test", nil, nil, slog.New(slog.DiscardHandler))
	normalized, err := normalizer.Normalize(ctx, inbound.NewPayload(map[string]string{
		"recipient":  "bob@vrelay.test",
		"sender":     "alice@vrelay.test",
		"subject":    "Lunch?",
		"body-plain": "noon",
		"Message-Id": "X",
	}))
	require.NoError(t, err)
	result := svc.Deliver(ctx, normalized)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, env.store.MessagesFor(env.bobID), 1)
}

func TestSend_MirrorSkippedWhenWebhookWasFirst(t *testing.T) {
	ctx := context.Background()
	p := providerfake.NewProvider()
	p.NextID = "X"
	env := newTestEnv(t, p, Options{InternalFallback: true})

	providerID := "X"
	_, err := env.store.InsertMessage(ctx, &models.Message{
		ID: "webhook-copy", UserID: env.bobID, ProviderMessageID: &providerID,
		Folder: models.FolderInbox, Status: models.StatusDelivered,
	})
	require.NoError(t, err)

	_, err = env.orch.Send(ctx, env.aliceID, Draft{To: []string{"bob@vrelay.test"}, Text: "hi"})
	require.NoError(t, err)

	bobMsgs := env.store.MessagesFor(env.bobID)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, "webhook-copy", bobMsgs[0].ID)
}

func TestSend_FallbackDisabled(t *testing.T) {
	env := newTestEnv(t, providerfake.NewProvider(), Options{InternalFallback: false})

	_, err := env.orch.Send(context.Background(), env.aliceID, Draft{To: []string{"bob@vrelay.test"}})
	require.NoError(t, err)
	assert.Empty(t, env.store.MessagesFor(env.bobID))
}

func TestReply(t *testing.T) {
	ctx := context.Background()

	seedOriginal := func(t *testing.T, env *testEnv) string {
		t.Helper()
		providerID := "<orig@mail.example.com>"
		original := &models.Message{
			ID:                "orig",
			UserID:            env.aliceID,
			ProviderMessageID: &providerID,
			From:              models.Participant{Address: "bob@vrelay.test", Name: "Bob, Jr."},
			To:                []models.Participant{{Address: "alice@vrelay.test"}},
			Subject:           "Plans",
			Folder:            models.FolderInbox,
			Status:            models.StatusDelivered,
			References:        []string{"<root@mail.example.com>"},
		}
		_, err := env.store.InsertMessage(ctx, original)
		require.NoError(t, err)
		return original.ID
	}

	t.Run("threads to the original", func(t *testing.T) {
		p := mocks.NewProvider(t)
		p.On("Send", mock.Anything, mock.MatchedBy(func(m provider.OutboundMessage) bool {
			return m.InReplyTo == "<orig@mail.example.com>" &&
				assert.ObjectsAreEqual([]string{"<root@mail.example.com>", "<orig@mail.example.com>"}, m.References) &&
				m.Subject == "Re: Plans" &&
				len(m.To) == 1 && m.To[0].Address == "bob@vrelay.test" && m.To[0].Name == "Bob, Jr."
		})).Return(provider.SendResult{ID: "<reply@provider>"}, nil).Once()

		env := newTestEnv(t, p, Options{InternalFallback: true})
		id := seedOriginal(t, env)

		reply, err := env.orch.Reply(ctx, env.aliceID, id, Draft{Text: "Sounds good"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSent, reply.Status)
		assert.Empty(t, env.store.MessagesFor(env.bobID), "replies are not mirrored by default")
	})

	t.Run("user setting enables mirroring", func(t *testing.T) {
		env := newTestEnv(t, providerfake.NewProvider(), Options{})
		id := seedOriginal(t, env)
		require.NoError(t, env.store.SaveUserSettings(ctx, &models.UserSettings{
			UserID: env.aliceID, PaginationPerPage: 20, InternalFallbackReplies: true,
		}))

		_, err := env.orch.Reply(ctx, env.aliceID, id, Draft{Text: "ok"})
		require.NoError(t, err)
		assert.Len(t, env.store.MessagesFor(env.bobID), 1)
	})

	t.Run("unknown original", func(t *testing.T) {
		env := newTestEnv(t, providerfake.NewProvider(), Options{})
		_, err := env.orch.Reply(ctx, env.aliceID, "missing", Draft{Text: "ok"})
		assert.ErrorIs(t, err, mailbox.ErrMessageNotFound)
	})
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Plans", replySubject("Plans"))
	assert.Equal(t, "RE: Plans", replySubject("RE: Plans"))
	assert.Equal(t, "Re: ", replySubject(""))
}

func TestSaveDraftThenSend(t *testing.T) {
	ctx := context.Background()
	p := providerfake.NewProvider()
	env := newTestEnv(t, p, Options{})

	draft, err := env.orch.SaveDraft(ctx, env.aliceID, Draft{
		Subject:     "WIP",
		Attachments: []Upload{{Filename: "notes.txt", MimeType: "text/plain", Data: []byte("v1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FolderDrafts, draft.Folder)
	assert.Equal(t, models.StatusDraft, draft.Status)

	updated, err := env.orch.SaveDraft(ctx, env.aliceID, Draft{ID: draft.ID, Subject: "Final", To: []string{"carol@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, updated.ID)
	assert.Equal(t, "Final", updated.Subject)
	assert.Len(t, updated.Attachments, 1, "saved attachments are kept")

	sent, err := env.orch.Send(ctx, env.aliceID, Draft{ID: draft.ID, Subject: "Final", To: []string{"carol@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, sent.ID)
	assert.Len(t, env.store.MessagesFor(env.aliceID), 1)

	require.Len(t, p.Sent, 1)
	require.Len(t, p.Sent[0].Attachments, 1)
	assert.Equal(t, []byte("v1"), p.Sent[0].Attachments[0].Data)

	_, err = env.orch.SaveDraft(ctx, env.aliceID, Draft{ID: draft.ID})
	assert.ErrorIs(t, err, ErrNotDraft, "a sent message is no longer editable")
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, providerfake.NewProvider(), Options{})
	draft := Draft{To: []string{"carol@example.com"}, Subject: "Later"}

	_, err := env.orch.Schedule(ctx, env.aliceID, draft, testNow)
	assert.ErrorIs(t, err, ErrScheduleInPast)
	_, err = env.orch.Schedule(ctx, env.aliceID, draft, testNow.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrScheduleInPast)
	assert.Empty(t, env.store.MessagesFor(env.aliceID))

	at := testNow.Add(time.Hour)
	msg, err := env.orch.Schedule(ctx, env.aliceID, draft, at)
	require.NoError(t, err)

	stored := env.get(t, env.aliceID, msg.ID)
	assert.Equal(t, models.StatusScheduled, stored.Status)
	assert.Equal(t, models.FolderScheduled, stored.Folder)
	require.NotNil(t, stored.ScheduledSendAt)
	assert.True(t, at.Equal(*stored.ScheduledSendAt))
}

func TestCancelSchedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, providerfake.NewProvider(), Options{})
	msg, err := env.orch.Schedule(ctx, env.aliceID, Draft{To: []string{"carol@example.com"}}, testNow.Add(time.Hour))
	require.NoError(t, err)

	cancelled, err := env.orch.CancelSchedule(ctx, env.aliceID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, cancelled.Status)
	assert.Equal(t, models.FolderDrafts, cancelled.Folder)
	assert.Nil(t, cancelled.ScheduledSendAt)

	_, err = env.orch.CancelSchedule(ctx, env.aliceID, msg.ID)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestUpdateSchedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, providerfake.NewProvider(), Options{})
	msg, err := env.orch.Schedule(ctx, env.aliceID, Draft{
		To:          []string{"carol@example.com"},
		Subject:     "Later",
		Attachments: []Upload{{Filename: "a.txt", Data: []byte("a")}},
	}, testNow.Add(time.Hour))
	require.NoError(t, err)

	t.Run("past time is rejected without changes", func(t *testing.T) {
		past := testNow.Add(-time.Minute)
		subject := "changed"
		_, err := env.orch.UpdateSchedule(ctx, env.aliceID, msg.ID, SchedulePatch{At: &past, Subject: &subject})
		assert.ErrorIs(t, err, ErrScheduleInPast)
		assert.Equal(t, "Later", env.get(t, env.aliceID, msg.ID).Subject)
	})

	t.Run("attachments are merged", func(t *testing.T) {
		later := testNow.Add(2 * time.Hour)
		subject := "Even later"
		updated, err := env.orch.UpdateSchedule(ctx, env.aliceID, msg.ID, SchedulePatch{
			At:          &later,
			Subject:     &subject,
			Attachments: []Upload{{Filename: "b.txt", Data: []byte("b")}, {Filename: "a.txt", Data: []byte("dup")}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Even later", updated.Subject)
		assert.True(t, later.Equal(*updated.ScheduledSendAt))
		require.Len(t, updated.Attachments, 2)
		assert.Equal(t, "a.txt", updated.Attachments[0].Filename)
		assert.Equal(t, "b.txt", updated.Attachments[1].Filename)
		assert.Equal(t, []models.Participant{{Address: "carol@example.com", Name: "carol"}}, updated.To)
	})

	t.Run("recipients cannot be emptied", func(t *testing.T) {
		_, err := env.orch.UpdateSchedule(ctx, env.aliceID, msg.ID, SchedulePatch{To: []string{}})
		assert.ErrorIs(t, err, ErrNoRecipients)
	})

	t.Run("only scheduled messages", func(t *testing.T) {
		_, err := env.orch.CancelSchedule(ctx, env.aliceID, msg.ID)
		require.NoError(t, err)
		_, err = env.orch.UpdateSchedule(ctx, env.aliceID, msg.ID, SchedulePatch{})
		assert.ErrorIs(t, err, ErrNotScheduled)
	})
}

func TestDeliverScheduled(t *testing.T) {
	ctx := context.Background()

	t.Run("sends with stored attachments", func(t *testing.T) {
		p := providerfake.NewProvider()
		env := newTestEnv(t, p, Options{InternalFallback: true})
		msg, err := env.orch.Schedule(ctx, env.aliceID, Draft{
			To:          []string{"bob@vrelay.test"},
			Attachments: []Upload{{Filename: "a.txt", MimeType: "text/plain", Data: []byte("a")}},
		}, testNow.Add(time.Minute))
		require.NoError(t, err)

		require.NoError(t, env.orch.DeliverScheduled(ctx, env.get(t, env.aliceID, msg.ID)))

		stored := env.get(t, env.aliceID, msg.ID)
		assert.Equal(t, models.StatusSent, stored.Status)
		assert.Equal(t, models.FolderSent, stored.Folder)
		assert.Nil(t, stored.ScheduledSendAt)
		require.Len(t, p.Sent, 1)
		assert.Equal(t, []byte("a"), p.Sent[0].Attachments[0].Data)
		assert.Len(t, env.store.MessagesFor(env.bobID), 1)
	})

	t.Run("missing attachment fails the send", func(t *testing.T) {
		p := providerfake.NewProvider()
		env := newTestEnv(t, p, Options{})
		foreign := "https://elsewhere.example.com/a.txt"
		at := testNow.Add(-time.Minute)
		msg := &models.Message{
			ID:              "sched-1",
			UserID:          env.aliceID,
			To:              []models.Participant{{Address: "carol@example.com"}},
			Status:          models.StatusScheduled,
			Folder:          models.FolderScheduled,
			ScheduledSendAt: &at,
			Attachments:     []models.Attachment{{Filename: "a.txt", ContentURL: &foreign}},
		}
		_, err := env.store.InsertMessage(ctx, msg)
		require.NoError(t, err)

		err = env.orch.DeliverScheduled(ctx, env.get(t, env.aliceID, msg.ID))
		assert.ErrorIs(t, err, ErrSendFailed)
		assert.Equal(t, models.StatusFailed, env.get(t, env.aliceID, msg.ID).Status)
		assert.Equal(t, 0, p.SentCount())
	})

	t.Run("not scheduled", func(t *testing.T) {
		env := newTestEnv(t, providerfake.NewProvider(), Options{})
		err := env.orch.DeliverScheduled(ctx, &models.Message{ID: "x", Status: models.StatusDraft})
		assert.ErrorIs(t, err, ErrNotScheduled)
	})

	t.Run("cancelled after listing is not sent", func(t *testing.T) {
		p := providerfake.NewProvider()
		env := newTestEnv(t, p, Options{})
		msg, err := env.orch.Schedule(ctx, env.aliceID, Draft{To: []string{"carol@example.com"}}, testNow.Add(time.Minute))
		require.NoError(t, err)

		due, err := env.store.ListDueScheduled(ctx, testNow.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		_, err = env.orch.CancelSchedule(ctx, env.aliceID, msg.ID)
		require.NoError(t, err)

		err = env.orch.DeliverScheduled(ctx, due[0])
		assert.ErrorIs(t, err, ErrNotScheduled)
		assert.Equal(t, 0, p.SentCount())

		stored := env.get(t, env.aliceID, msg.ID)
		assert.Equal(t, models.StatusDraft, stored.Status)
		assert.Equal(t, models.FolderDrafts, stored.Folder)
		assert.Nil(t, stored.SentAt)
	})

	t.Run("the same listing is delivered once", func(t *testing.T) {
		p := providerfake.NewProvider()
		env := newTestEnv(t, p, Options{})
		_, err := env.orch.Schedule(ctx, env.aliceID, Draft{To: []string{"carol@example.com"}}, testNow.Add(time.Minute))
		require.NoError(t, err)

		due, err := env.store.ListDueScheduled(ctx, testNow.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		stale := due[0].Clone()

		require.NoError(t, env.orch.DeliverScheduled(ctx, due[0]))
		assert.ErrorIs(t, env.orch.DeliverScheduled(ctx, stale), ErrNotScheduled)
		assert.Equal(t, 1, p.SentCount())
	})

	t.Run("picks up edits made after listing", func(t *testing.T) {
		p := providerfake.NewProvider()
		env := newTestEnv(t, p, Options{})
		msg, err := env.orch.Schedule(ctx, env.aliceID, Draft{To: []string{"carol@example.com"}, Subject: "v1"}, testNow.Add(time.Minute))
		require.NoError(t, err)

		due, err := env.store.ListDueScheduled(ctx, testNow.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		subject := "v2"
		_, err = env.orch.UpdateSchedule(ctx, env.aliceID, msg.ID, SchedulePatch{Subject: &subject})
		require.NoError(t, err)

		require.NoError(t, env.orch.DeliverScheduled(ctx, due[0]))
		require.Len(t, p.Sent, 1)
		assert.Equal(t, "v2", p.Sent[0].Subject)
	})
}

func TestSend_MirroredCopyHidesOtherBlindRecipients(t *testing.T) {
	ctx := context.Background()
	p := providerfake.NewProvider()
	p.NextID = "<bcc@provider>"
	env := newTestEnv(t, p, Options{InternalFallback: true})
	carolID := env.store.AddUser("carol@gmail.com", "carol@vrelay.test")

	_, err := env.orch.Send(ctx, env.aliceID, Draft{
		To:   []string{"bob@vrelay.test"},
		BCC:  []string{"carol@vrelay.test", "secret@example.com"},
		Text: "quiet",
	})
	require.NoError(t, err)

	bobMsgs := env.store.MessagesFor(env.bobID)
	require.Len(t, bobMsgs, 1)
	assert.Empty(t, bobMsgs[0].BCC)

	carolMsgs := env.store.MessagesFor(carolID)
	require.Len(t, carolMsgs, 1)
	require.Len(t, carolMsgs[0].BCC, 1)
	assert.Equal(t, "carol@vrelay.test", carolMsgs[0].BCC[0].Address)

	sent := env.store.MessagesFor(env.aliceID)
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].BCC, 2, "the sender keeps the full list")
}

func TestSend_SentCopyRecordedWhenProviderIDAlreadyStored(t *testing.T) {
	ctx := context.Background()
	p := providerfake.NewProvider()
	p.NextID = "<self@provider>"
	env := newTestEnv(t, p, Options{})

	// The webhook delivered the self-addressed message before the send call returned.
	providerID := "<self@provider>"
	_, err := env.store.InsertMessage(ctx, &models.Message{
		ID: "webhook-copy", UserID: env.aliceID, ProviderMessageID: &providerID,
		Folder: models.FolderInbox, Status: models.StatusDelivered,
	})
	require.NoError(t, err)

	msg, err := env.orch.Send(ctx, env.aliceID, Draft{To: []string{"alice@vrelay.test"}, Text: "note to self"})
	require.NoError(t, err)

	stored := env.get(t, env.aliceID, msg.ID)
	assert.Equal(t, models.StatusSent, stored.Status)
	assert.Equal(t, models.FolderSent, stored.Folder)
	require.NotNil(t, stored.SentAt)
	assert.Nil(t, stored.ProviderMessageID)

	webhookCopy := env.get(t, env.aliceID, "webhook-copy")
	require.NotNil(t, webhookCopy.ProviderMessageID)
	assert.Equal(t, providerID, *webhookCopy.ProviderMessageID)
}
