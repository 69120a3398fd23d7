package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vrelay/internal/models"
)

// Store is the persisted state shared by the mailbox, dedup, outbound and sweeper packages.
// It allows those services to be tested with the in-memory implementation in db/fake.
type Store interface {
	GetOrCreateUser(ctx context.Context, email string) (string, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByMailAddress(ctx context.Context, address string) (*models.User, error)
	SetMailAddress(ctx context.Context, userID, address, displayName string) error

	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings *models.UserSettings) error

	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, userID, id string) (*models.Message, error)
	MessageExists(ctx context.Context, id string) (bool, error)
	ProviderMessageExists(ctx context.Context, userID, providerMessageID string) (bool, error)
	DeleteMessage(ctx context.Context, userID, id string) (bool, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]*models.Message, int, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
	ClaimScheduled(ctx context.Context, userID, id string) (bool, error)
	DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteUserTrash(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	GetMailStats(ctx context.Context, userID string) (*models.MailStats, error)
}

// pgStore implements Store using a database pool.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store that uses the given database pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	return GetOrCreateUser(ctx, s.pool, email)
}

func (s *pgStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return GetUser(ctx, s.pool, userID)
}

func (s *pgStore) GetUserByMailAddress(ctx context.Context, address string) (*models.User, error) {
	return GetUserByMailAddress(ctx, s.pool, address)
}

func (s *pgStore) SetMailAddress(ctx context.Context, userID, address, displayName string) error {
	return SetMailAddress(ctx, s.pool, userID, address, displayName)
}

func (s *pgStore) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	return GetUserSettings(ctx, s.pool, userID)
}

func (s *pgStore) SaveUserSettings(ctx context.Context, settings *models.UserSettings) error {
	return SaveUserSettings(ctx, s.pool, settings)
}

func (s *pgStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	return InsertMessage(ctx, s.pool, msg)
}

func (s *pgStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	return UpdateMessage(ctx, s.pool, msg)
}

func (s *pgStore) GetMessage(ctx context.Context, userID, id string) (*models.Message, error) {
	return GetMessage(ctx, s.pool, userID, id)
}

func (s *pgStore) MessageExists(ctx context.Context, id string) (bool, error) {
	return MessageExists(ctx, s.pool, id)
}

func (s *pgStore) ProviderMessageExists(ctx context.Context, userID, providerMessageID string) (bool, error) {
	return ProviderMessageExists(ctx, s.pool, userID, providerMessageID)
}

func (s *pgStore) DeleteMessage(ctx context.Context, userID, id string) (bool, error) {
	return DeleteMessage(ctx, s.pool, userID, id)
}

func (s *pgStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*models.Message, int, error) {
	return ListMessages(ctx, s.pool, filter)
}

func (s *pgStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	return ListDueScheduled(ctx, s.pool, now, limit)
}

func (s *pgStore) ClaimScheduled(ctx context.Context, userID, id string) (bool, error) {
	return ClaimScheduled(ctx, s.pool, userID, id)
}

func (s *pgStore) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	return DeleteExpiredTrash(ctx, s.pool, cutoff)
}

func (s *pgStore) DeleteUserTrash(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	return DeleteUserTrash(ctx, s.pool, userID, cutoff)
}

func (s *pgStore) GetMailStats(ctx context.Context, userID string) (*models.MailStats, error) {
	return GetMailStats(ctx, s.pool, userID)
}
