package mailbox

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vdavid/vrelay/internal/db/fake"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/models"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*models.Message
}

func (r *recordingNotifier) NotifyNewMessage(msg *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg.Clone())
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestService(t *testing.T) (*Service, *fake.Store, *recordingNotifier) {
	t.Helper()
	store := fake.NewStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, dedup.NewGuard(store), NewResolver(store), notifier, slog.New(slog.DiscardHandler))
	svc.now = func() time.Time { return testNow }
	return svc, store, notifier
}

// seedMessage stores a message for userID directly and returns its id.
func seedMessage(t *testing.T, store *fake.Store, userID string, mutate func(m *models.Message)) string {
	t.Helper()
	received := testNow.Add(-time.Hour)
	msg := &models.Message{
		ID:         uuid.NewString(),
		UserID:     userID,
		From:       models.NewParticipant("bob@example.com", "Bob"),
		Subject:    "Hello",
		TextBody:   "body",
		Folder:     models.FolderInbox,
		Status:     models.StatusDelivered,
		ReceivedAt: &received,
	}
	if mutate != nil {
		mutate(msg)
	}
	if _, err := store.InsertMessage(t.Context(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg.ID
}
