package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vrelay/internal/models"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrMailAddressTaken is returned when another user already owns the mail address.
	ErrMailAddressTaken = errors.New("mail address already taken")
)

const uniqueViolation = "23505"

// GetOrCreateUser returns the user's id for the given email.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, email string) (string, error) {
	var userID string

	err := pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}

const userColumns = `id, email, mail_address, display_name, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.MailAddress, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns the user with the given id.
func GetUser(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.User, error) {
	u, err := scanUser(pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByMailAddress returns the user owning the provisioned address (case-insensitive).
func GetUserByMailAddress(ctx context.Context, pool *pgxpool.Pool, address string) (*models.User, error) {
	u, err := scanUser(pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(mail_address) = lower($1)
	`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by mail address: %w", err)
	}
	return u, nil
}

// SetMailAddress records the provisioned address and display name of a user.
func SetMailAddress(ctx context.Context, pool *pgxpool.Pool, userID, address, displayName string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE users
		SET mail_address = lower($2), display_name = $3, updated_at = now()
		WHERE id = $1
	`, userID, address, displayName)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrMailAddressTaken
	}
	if err != nil {
		return fmt.Errorf("failed to set mail address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
