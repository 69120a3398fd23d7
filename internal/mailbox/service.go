package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/models"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidFolder   = errors.New("invalid folder")
	ErrInvalidLabel    = errors.New("invalid label")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidSnooze   = errors.New("snooze time must be in the future")
	ErrNotInTrash      = errors.New("message must be in trash to be deleted permanently")

	ErrScheduledMessage = errors.New("scheduled messages must be cancelled before they can be moved")
)

// Notifier is told about every newly delivered message.
type Notifier interface {
	NotifyNewMessage(msg *models.Message)
}

// Service implements the mailbox state machine for one store.
type Service struct {
	store    db.Store
	guard    *dedup.Guard
	resolver *Resolver
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. notifier may be nil.
func NewService(store db.Store, guard *dedup.Guard, resolver *Resolver, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		guard:    guard,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ListOptions filters a mailbox listing. Folder defaults to inbox.
type ListOptions struct {
	Folder string
	Label  string
	Search string
	IsRead *bool
	Page   int
	Limit  int
}

func (s *Service) perPage(ctx context.Context, userID string, limit int) int {
	if limit > 0 {
		return min(limit, MaxPerPage)
	}
	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil || settings.PaginationPerPage <= 0 {
		return DefaultPerPage
	}
	return min(settings.PaginationPerPage, MaxPerPage)
}

// normalizeSearch applies NFC and collapses whitespace so composed and decomposed input match alike.
func normalizeSearch(q string) string {
	return strings.Join(strings.Fields(norm.NFC.String(q)), " ")
}

func (s *Service) list(ctx context.Context, filter db.MessageFilter, page, limit int) (*models.MessagesResponse, error) {
	if page < 1 {
		page = 1
	}
	limit = s.perPage(ctx, filter.UserID, limit)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	messages, total, err := s.store.ListMessages(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return &models.MessagesResponse{
		Messages: messages,
		Pagination: models.PaginationInfo{
			TotalCount: total,
			Page:       page,
			PerPage:    limit,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// List returns one page of a folder, optionally filtered by label, read state and search text.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (*models.MessagesResponse, error) {
	folderName := opts.Folder
	if folderName == "" {
		folderName = string(models.FolderInbox)
	}
	folder, err := models.ParseFolder(folderName)
	if err != nil {
		return nil, ErrInvalidFolder
	}

	filter := db.MessageFilter{
		UserID: userID,
		Folder: folder,
		Search: normalizeSearch(opts.Search),
		IsRead: opts.IsRead,
	}
	if opts.Label != "" {
		label, ok := models.NormalizeLabel(opts.Label)
		if !ok {
			return nil, ErrInvalidLabel
		}
		filter.Label = label
	}
	return s.list(ctx, filter, opts.Page, opts.Limit)
}

// ListByCategory returns one page of messages carrying the category, across folders.
func (s *Service) ListByCategory(ctx context.Context, userID, category string, page, limit int) (*models.MessagesResponse, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !models.IsCategory(category) {
		return nil, ErrInvalidCategory
	}
	return s.list(ctx, db.MessageFilter{UserID: userID, Category: category}, page, limit)
}

// Stats aggregates counts per folder and category.
func (s *Service) Stats(ctx context.Context, userID string) (*models.MailStats, error) {
	stats, err := s.store.GetMailStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mail stats: %w", err)
	}
	return stats, nil
}

func (s *Service) load(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, userID, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// mutate loads a message, applies fn and saves it. fn returning an error aborts without writing.
func (s *Service) mutate(ctx context.Context, userID, id string, fn func(msg *models.Message, now time.Time) error) (*models.Message, error) {
	msg, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(msg, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// Get returns a message and marks it read.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if msg.IsRead {
		return msg, nil
	}
	return s.mutate(ctx, userID, id, func(m *models.Message, now time.Time) error {
		m.SetRead(true, now)
		return nil
	})
}

func (s *Service) ToggleRead(ctx context.Context, userID, id string) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, now time.Time) error {
		m.SetRead(!m.IsRead, now)
		return nil
	})
}

func (s *Service) SetRead(ctx context.Context, userID, id string, read bool) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, now time.Time) error {
		m.SetRead(read, now)
		return nil
	})
}

func (s *Service) ToggleStar(ctx context.Context, userID, id string) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, _ time.Time) error {
		m.IsStarred = !m.IsStarred
		return nil
	})
}

func (s *Service) ToggleImportant(ctx context.Context, userID, id string) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, _ time.Time) error {
		m.IsImportant = !m.IsImportant
		return nil
	})
}

// Move reassigns the folder. Moving into trash stamps DeletedAt, moving out clears it.
// The scheduled folder belongs to the scheduler: a scheduled message cannot leave it and
// nothing else can enter it.
func (s *Service) Move(ctx context.Context, userID, id, folderName string) (*models.Message, error) {
	folder, err := models.ParseFolder(folderName)
	if err != nil {
		return nil, ErrInvalidFolder
	}
	return s.mutate(ctx, userID, id, func(m *models.Message, now time.Time) error {
		if (m.Status == models.StatusScheduled) != (folder == models.FolderScheduled) {
			return ErrScheduledMessage
		}
		m.MoveTo(folder, now)
		return nil
	})
}

// Delete moves a message to trash, or removes it for good when it is already there.
// permanent reports which of the two happened.
func (s *Service) Delete(ctx context.Context, userID, id string) (permanent bool, err error) {
	msg, err := s.load(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if msg.Folder == models.FolderTrash {
		return true, s.DeletePermanently(ctx, userID, id)
	}
	_, err = s.Move(ctx, userID, id, string(models.FolderTrash))
	return false, err
}

// DeletePermanently removes a trashed message. Deleting one that is already gone succeeds.
func (s *Service) DeletePermanently(ctx context.Context, userID, id string) error {
	msg, err := s.load(ctx, userID, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Folder != models.FolderTrash {
		return ErrNotInTrash
	}
	if _, err := s.store.DeleteMessage(ctx, userID, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *Service) AddLabel(ctx context.Context, userID, id, label string) (*models.Message, error) {
	normalized, ok := models.NormalizeLabel(label)
	if !ok {
		return nil, ErrInvalidLabel
	}
	return s.mutate(ctx, userID, id, func(m *models.Message, _ time.Time) error {
		m.AddLabel(normalized)
		return nil
	})
}

func (s *Service) RemoveLabel(ctx context.Context, userID, id, label string) (*models.Message, error) {
	normalized, ok := models.NormalizeLabel(label)
	if !ok {
		return nil, ErrInvalidLabel
	}
	return s.mutate(ctx, userID, id, func(m *models.Message, _ time.Time) error {
		m.RemoveLabel(normalized)
		return nil
	})
}

// AddCategory adds a closed-set category, which is also a label.
func (s *Service) AddCategory(ctx context.Context, userID, id, category string) (*models.Message, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !models.IsCategory(category) {
		return nil, ErrInvalidCategory
	}
	return s.AddLabel(ctx, userID, id, category)
}

// RemoveCategory removes the category together with its label.
func (s *Service) RemoveCategory(ctx context.Context, userID, id, category string) (*models.Message, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !models.IsCategory(category) {
		return nil, ErrInvalidCategory
	}
	return s.RemoveLabel(ctx, userID, id, category)
}

// Snooze records a future wake-up time. Nothing un-snoozes automatically; clients filter on it.
func (s *Service) Snooze(ctx context.Context, userID, id string, until time.Time) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, now time.Time) error {
		if !until.After(now) {
			return ErrInvalidSnooze
		}
		u := until.UTC()
		m.SnoozeUntil = &u
		return nil
	})
}

func (s *Service) Unsnooze(ctx context.Context, userID, id string) (*models.Message, error) {
	return s.mutate(ctx, userID, id, func(m *models.Message, _ time.Time) error {
		m.SnoozeUntil = nil
		return nil
	})
}
