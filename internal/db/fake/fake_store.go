package fake

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/models"
)

// Store is an in-memory db.Store. It enforces the same uniqueness rules as the Postgres schema.
type Store struct {
	Users    map[string]*models.User
	Settings map[string]*models.UserSettings
	Messages map[string]*models.Message
	mu       sync.Mutex
}

var _ db.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		Users:    map[string]*models.User{},
		Settings: map[string]*models.UserSettings{},
		Messages: map[string]*models.Message{},
	}
}

func (s *Store) GetOrCreateUser(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.Users {
		if u.Email == email {
			return u.ID, nil
		}
	}
	now := time.Now()
	u := &models.User{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}
	s.Users[u.ID] = u
	return u.ID, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.Users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByMailAddress(_ context.Context, address string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.Users {
		if u.MailAddress != nil && strings.EqualFold(*u.MailAddress, address) {
			c := *u
			return &c, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (s *Store) SetMailAddress(_ context.Context, userID, address, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address = strings.ToLower(address)
	for _, u := range s.Users {
		if u.ID != userID && u.MailAddress != nil && *u.MailAddress == address {
			return db.ErrMailAddressTaken
		}
	}
	u, ok := s.Users[userID]
	if !ok {
		return db.ErrUserNotFound
	}
	u.MailAddress = &address
	u.DisplayName = displayName
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetUserSettings(_ context.Context, userID string) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.Settings[userID]
	if !ok {
		return nil, db.ErrUserSettingsNotFound
	}
	c := *settings
	return &c, nil
}

func (s *Store) SaveUserSettings(_ context.Context, settings *models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.Settings[settings.UserID]; ok {
		settings.CreatedAt = existing.CreatedAt
	} else {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	c := *settings
	s.Settings[settings.UserID] = &c
	return nil
}

func normalize(msg *models.Message) {
	if msg.To == nil {
		msg.To = []models.Participant{}
	}
	if msg.CC == nil {
		msg.CC = []models.Participant{}
	}
	if msg.BCC == nil {
		msg.BCC = []models.Participant{}
	}
	if msg.Labels == nil {
		msg.Labels = []string{}
	}
	if msg.References == nil {
		msg.References = []string{}
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	msg.Categories = models.CategoriesOf(msg.Labels)
}

// providerIDTaken reports whether another message of the same user carries msg's provider id.
func (s *Store) providerIDTaken(msg *models.Message) bool {
	if msg.ProviderMessageID == nil {
		return false
	}
	for _, existing := range s.Messages {
		if existing.ID != msg.ID && existing.UserID == msg.UserID && existing.ProviderMessageID != nil &&
			*existing.ProviderMessageID == *msg.ProviderMessageID {
			return true
		}
	}
	return false
}

func (s *Store) InsertMessage(_ context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.providerIDTaken(msg) {
		return false, nil
	}

	normalize(msg)
	if err := msg.CheckInvariants(); err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.Messages[msg.ID] = msg.Clone()
	return true, nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.Messages[msg.ID]
	if !ok || existing.UserID != msg.UserID {
		return db.ErrMessageNotFound
	}
	if s.providerIDTaken(msg) {
		return db.ErrDuplicateProviderMessageID
	}
	normalize(msg)
	if err := msg.CheckInvariants(); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	msg.CreatedAt = existing.CreatedAt
	msg.UpdatedAt = time.Now()
	s.Messages[msg.ID] = msg.Clone()
	return nil
}

func (s *Store) GetMessage(_ context.Context, userID, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.Messages[id]
	if !ok || msg.UserID != userID {
		return nil, db.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *Store) MessageExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.Messages[id]
	return ok, nil
}

func (s *Store) ProviderMessageExists(_ context.Context, userID, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.Messages {
		if msg.UserID == userID && msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteMessage(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.Messages[id]
	if !ok || msg.UserID != userID {
		return false, nil
	}
	delete(s.Messages, id)
	return true, nil
}

func sortTime(m *models.Message) time.Time {
	switch {
	case m.ReceivedAt != nil:
		return *m.ReceivedAt
	case m.SentAt != nil:
		return *m.SentAt
	default:
		return m.CreatedAt
	}
}

func matches(m *models.Message, f db.MessageFilter) bool {
	if m.UserID != f.UserID {
		return false
	}
	if f.Folder != "" && m.Folder != f.Folder {
		return false
	}
	if f.Label != "" && !slices.Contains(m.Labels, f.Label) {
		return false
	}
	if f.Category != "" && !slices.Contains(m.Categories, f.Category) {
		return false
	}
	if f.IsRead != nil && m.IsRead != *f.IsRead {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		fields := []string{m.Subject, m.TextBody, m.From.Address, m.From.Name}
		if !slices.ContainsFunc(fields, func(v string) bool { return strings.Contains(strings.ToLower(v), q) }) {
			return false
		}
	}
	return true
}

func (s *Store) ListMessages(_ context.Context, filter db.MessageFilter) ([]*models.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Message
	for _, msg := range s.Messages {
		if matches(msg, filter) {
			all = append(all, msg)
		}
	}
	slices.SortFunc(all, func(a, b *models.Message) int {
		if c := sortTime(b).Compare(sortTime(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	total := len(all)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	page := make([]*models.Message, 0, end-start)
	for _, msg := range all[start:end] {
		page = append(page, msg.Clone())
	}
	return page, total, nil
}

func (s *Store) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Message
	for _, msg := range s.Messages {
		if msg.Status == models.StatusScheduled && msg.ScheduledSendAt != nil && !msg.ScheduledSendAt.After(now) {
			due = append(due, msg.Clone())
		}
	}
	slices.SortFunc(due, func(a, b *models.Message) int {
		return a.ScheduledSendAt.Compare(*b.ScheduledSendAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimScheduled(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.Messages[id]
	if !ok || msg.UserID != userID || msg.Status != models.StatusScheduled {
		return false, nil
	}
	msg.Status = models.StatusDraft
	msg.Folder = models.FolderSent
	msg.DeletedAt = nil
	msg.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) DeleteUserTrash(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, msg := range s.Messages {
		if msg.UserID == userID && msg.Folder == models.FolderTrash && msg.DeletedAt != nil && !msg.DeletedAt.After(cutoff) {
			delete(s.Messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) DeleteExpiredTrash(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, msg := range s.Messages {
		if msg.Folder == models.FolderTrash && msg.DeletedAt != nil && !msg.DeletedAt.After(cutoff) {
			delete(s.Messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) GetMailStats(_ context.Context, userID string) (*models.MailStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.NewMailStats()
	for _, msg := range s.Messages {
		if msg.UserID != userID {
			continue
		}
		stats.Total++
		stats.Folders[msg.Folder]++
		if !msg.IsRead {
			stats.Unread++
			stats.UnreadByFolder[msg.Folder]++
		}
		if msg.IsStarred {
			stats.Starred++
		}
		if msg.IsImportant {
			stats.Important++
		}
		for _, c := range msg.Categories {
			stats.Categories[c]++
			if !msg.IsRead {
				stats.UnreadByCategory[c]++
			}
		}
	}
	return stats, nil
}

// MessagesFor returns every message owned by the user, in no particular order.
func (s *Store) MessagesFor(userID string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Message
	for _, msg := range s.Messages {
		if msg.UserID == userID {
			out = append(out, msg.Clone())
		}
	}
	return out
}

// AddUser inserts a user with an already provisioned mail address.
func (s *Store) AddUser(email, mailAddress string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	u := &models.User{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}
	if mailAddress != "" {
		addr := strings.ToLower(mailAddress)
		u.MailAddress = &addr
	}
	s.Users[u.ID] = u
	return u.ID
}
