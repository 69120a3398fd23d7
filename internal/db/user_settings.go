package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vrelay/internal/models"
)

// ErrUserSettingsNotFound is returned when user settings cannot be found.
var ErrUserSettingsNotFound = errors.New("user settings not found")

// GetUserSettings returns the user settings for the given user.
func GetUserSettings(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings

	err := pool.QueryRow(ctx, `
		SELECT
			user_id,
			pagination_per_page,
			internal_fallback_replies,
			created_at,
			updated_at
		FROM user_settings
		WHERE user_id = $1
	`, userID).Scan(
		&settings.UserID,
		&settings.PaginationPerPage,
		&settings.InternalFallbackReplies,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	return &settings, nil
}

// SaveUserSettings creates or updates the user settings.
func SaveUserSettings(ctx context.Context, pool *pgxpool.Pool, settings *models.UserSettings) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO user_settings (
			user_id,
			pagination_per_page,
			internal_fallback_replies
		) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			pagination_per_page = EXCLUDED.pagination_per_page,
			internal_fallback_replies = EXCLUDED.internal_fallback_replies,
			updated_at = now()
		RETURNING created_at, updated_at
	`,
		settings.UserID,
		settings.PaginationPerPage,
		settings.InternalFallbackReplies,
	).Scan(&settings.CreatedAt, &settings.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}

	return nil
}
