package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/sweeper"
)

func newMaintenanceHandler(d *testDeps) *MaintenanceHandler {
	retention := sweeper.NewRetentionSweeper(d.store, time.Hour, 30*24*time.Hour, slog.New(slog.DiscardHandler))
	return NewMaintenanceHandler(d.store, d.mailbox, retention, d.provider, testDomain)
}

func TestMaintenanceHandler_RequiresAuth(t *testing.T) {
	h := newMaintenanceHandler(newTestDeps(t, nil))

	VerifyAuthCheck(t, h.CleanupTrash, http.MethodPost, "/api/v1/mail/cleanup-trash")
	VerifyAuthCheck(t, h.FixWebmailURLs, http.MethodPost, "/api/v1/mail/fix-webmail-urls")
	VerifyAuthCheck(t, h.ProviderStatus, http.MethodGet, "/api/v1/mail/provider-status")
}

func TestMaintenanceHandler_CleanupTrash(t *testing.T) {
	d := newTestDeps(t, nil)
	userID := d.provisionUser(t, aliceEmail, "alice@vrelay.test")
	h := newMaintenanceHandler(d)
	now := time.Now().UTC()

	trash := func(age time.Duration) string {
		m := &models.Message{ID: uuid.NewString(), UserID: userID, Status: models.StatusDelivered}
		m.MoveTo(models.FolderTrash, now.Add(-age))
		_, err := d.store.InsertMessage(context.Background(), m)
		require.NoError(t, err)
		return m.ID
	}
	trash(40 * 24 * time.Hour)
	recent := trash(time.Hour)

	rr := httptest.NewRecorder()
	h.CleanupTrash(rr, createRequestWithUser(http.MethodPost, "/api/v1/mail/cleanup-trash", aliceEmail, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), decodeBody[cleanupTrashResponse](t, rr).Deleted)

	remaining := d.fakeStore.MessagesFor(userID)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent, remaining[0].ID)
}

func TestMaintenanceHandler_FixWebmailURLs(t *testing.T) {
	d := newTestDeps(t, nil)
	userID := d.provisionUser(t, aliceEmail, "alice@vrelay.test")
	h := newMaintenanceHandler(d)

	msg := seedInbox(t, d, userID, "with attachment")
	link := "https://mail.google.com/mail/u/0/?ui=2&ik=abc&attid=0.1&view=att"
	msg.Attachments = []models.Attachment{{Filename: "a.pdf", MimeType: "application/pdf", ContentURL: &link}}
	require.NoError(t, d.store.UpdateMessage(context.Background(), msg))

	rr := httptest.NewRecorder()
	h.FixWebmailURLs(rr, createRequestWithUser(http.MethodPost, "/api/v1/mail/fix-webmail-urls", aliceEmail, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decodeBody[fixWebmailURLsResponse](t, rr).Updated)

	stored, err := d.store.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Contains(t, *stored.Attachments[0].ContentURL, "mail-attachment.googleusercontent.com")
}

func TestMaintenanceHandler_ProviderStatus(t *testing.T) {
	t.Run("reports the provider setup", func(t *testing.T) {
		d := newTestDeps(t, nil)
		d.provisionUser(t, aliceEmail, "")
		h := newMaintenanceHandler(d)

		rr := httptest.NewRecorder()
		h.ProviderStatus(rr, createRequestWithUser(http.MethodGet, "/api/v1/mail/provider-status", aliceEmail, nil))

		require.Equal(t, http.StatusOK, rr.Code)
		status := decodeBody[provider.Status](t, rr)
		assert.Equal(t, "fake", status.Provider)
		assert.True(t, status.Configured)
		assert.Equal(t, testDomain, status.Domain)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		d := newTestDeps(t, provider.Unconfigured{})
		d.provisionUser(t, aliceEmail, "")
		h := newMaintenanceHandler(d)

		rr := httptest.NewRecorder()
		h.ProviderStatus(rr, createRequestWithUser(http.MethodGet, "/api/v1/mail/provider-status", aliceEmail, nil))

		require.Equal(t, http.StatusOK, rr.Code)
		status := decodeBody[provider.Status](t, rr)
		assert.Equal(t, "none", status.Provider)
		assert.False(t, status.Configured)
	})
}
