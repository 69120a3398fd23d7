package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vrelay/internal/models"
)

var (
	// ErrMessageNotFound is returned when a requested message cannot be found.
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateProviderMessageID is returned when an update would give a user two
	// messages with the same provider message id.
	ErrDuplicateProviderMessageID = errors.New("provider message id already used by another message")
)

const providerIDIndex = "messages_user_provider_id_key"

// MessageFilter selects messages for a listing. Zero values mean "no filter".
type MessageFilter struct {
	UserID   string
	Folder   models.Folder
	Label    string
	Category string
	Search   string
	IsRead   *bool
	Limit    int
	Offset   int
}

const messageColumns = `
	id,
	user_id,
	provider_message_id,
	from_participant,
	to_participants,
	cc_participants,
	bcc_participants,
	subject,
	text_body,
	html_body,
	folder,
	status,
	labels,
	categories,
	is_read,
	is_important,
	is_starred,
	in_reply_to,
	message_references,
	attachments,
	spam_score,
	created_at,
	updated_at,
	sent_at,
	received_at,
	read_at,
	deleted_at,
	scheduled_send_at,
	snooze_until`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.ProviderMessageID,
		&msg.From,
		&msg.To,
		&msg.CC,
		&msg.BCC,
		&msg.Subject,
		&msg.TextBody,
		&msg.HTMLBody,
		&msg.Folder,
		&msg.Status,
		&msg.Labels,
		&msg.Categories,
		&msg.IsRead,
		&msg.IsImportant,
		&msg.IsStarred,
		&msg.InReplyTo,
		&msg.References,
		&msg.Attachments,
		&msg.SpamScore,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.SentAt,
		&msg.ReceivedAt,
		&msg.ReadAt,
		&msg.DeletedAt,
		&msg.ScheduledSendAt,
		&msg.SnoozeUntil,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// prepareForWrite replaces nil collections so NOT NULL columns never receive NULL,
// and recomputes the category view from the labels.
func prepareForWrite(msg *models.Message) {
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

// InsertMessage inserts a new message. When another message of the same owner already
// carries the same provider message id, nothing is written and created is false.
func InsertMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.Message) (bool, error) {
	prepareForWrite(msg)

	var createdAt, updatedAt time.Time
	err := pool.QueryRow(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, now(), now(), $22, $23, $24, $25, $26, $27)
		ON CONFLICT (user_id, provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING created_at, updated_at
	`,
		msg.ID,
		msg.UserID,
		msg.ProviderMessageID,
		msg.From,
		msg.To,
		msg.CC,
		msg.BCC,
		msg.Subject,
		msg.TextBody,
		msg.HTMLBody,
		msg.Folder,
		msg.Status,
		msg.Labels,
		msg.Categories,
		msg.IsRead,
		msg.IsImportant,
		msg.IsStarred,
		msg.InReplyTo,
		msg.References,
		msg.Attachments,
		msg.SpamScore,
		msg.SentAt,
		msg.ReceivedAt,
		msg.ReadAt,
		msg.DeletedAt,
		msg.ScheduledSendAt,
		msg.SnoozeUntil,
	).Scan(&createdAt, &updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	msg.CreatedAt = createdAt
	msg.UpdatedAt = updatedAt
	return true, nil
}

// UpdateMessage writes every mutable field of an existing message.
func UpdateMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.Message) error {
	prepareForWrite(msg)

	err := pool.QueryRow(ctx, `
		UPDATE messages SET
			provider_message_id = $3,
			to_participants = $4,
			cc_participants = $5,
			bcc_participants = $6,
			subject = $7,
			text_body = $8,
			html_body = $9,
			folder = $10,
			status = $11,
			labels = $12,
			categories = $13,
			is_read = $14,
			is_important = $15,
			is_starred = $16,
			in_reply_to = $17,
			message_references = $18,
			attachments = $19,
			sent_at = $20,
			read_at = $21,
			deleted_at = $22,
			scheduled_send_at = $23,
			snooze_until = $24,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`,
		msg.ID,
		msg.UserID,
		msg.ProviderMessageID,
		msg.To,
		msg.CC,
		msg.BCC,
		msg.Subject,
		msg.TextBody,
		msg.HTMLBody,
		msg.Folder,
		msg.Status,
		msg.Labels,
		msg.Categories,
		msg.IsRead,
		msg.IsImportant,
		msg.IsStarred,
		msg.InReplyTo,
		msg.References,
		msg.Attachments,
		msg.SentAt,
		msg.ReadAt,
		msg.DeletedAt,
		msg.ScheduledSendAt,
		msg.SnoozeUntil,
	).Scan(&msg.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == providerIDIndex {
		return ErrDuplicateProviderMessageID
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// ClaimScheduled moves a scheduled message into the in-flight state, but only while it is
// still scheduled. It reports whether this call made the transition.
func ClaimScheduled(ctx context.Context, pool *pgxpool.Pool, userID, id string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE messages
		SET status = 'draft', folder = 'sent', deleted_at = NULL, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'scheduled'
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMessage returns a message owned by the given user.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, userID, id string) (*models.Message, error) {
	msg, err := scanMessage(pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND user_id = $2
	`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// MessageExists reports whether any message uses the given local id.
func MessageExists(ctx context.Context, pool *pgxpool.Pool, id string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// ProviderMessageExists reports whether the owner already holds a message with the provider id.
func ProviderMessageExists(ctx context.Context, pool *pgxpool.Pool, userID, providerMessageID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = $1 AND provider_message_id = $2)
	`, userID, providerMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check provider message existence: %w", err)
	}
	return exists, nil
}

// DeleteMessage permanently removes a message. Deleting a missing row is not an error.
func DeleteMessage(ctx context.Context, pool *pgxpool.Pool, userID, id string) (bool, error) {
	tag, err := pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func buildMessageWhere(filter MessageFilter) (string, []any) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Folder != "" {
		add("folder = $%d", filter.Folder)
	}
	if filter.Label != "" {
		add("$%d = ANY(labels)", filter.Label)
	}
	if filter.Category != "" {
		add("$%d = ANY(categories)", filter.Category)
	}
	if filter.IsRead != nil {
		add("is_read = $%d", *filter.IsRead)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(filter.Search) + "%"
		args = append(args, pattern)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(subject ILIKE $%[1]d OR text_body ILIKE $%[1]d OR from_participant->>'address' ILIKE $%[1]d OR from_participant->>'name' ILIKE $%[1]d)", n))
	}

	return strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListMessages returns one page of messages matching the filter plus the total match count.
func ListMessages(ctx context.Context, pool *pgxpool.Pool, filter MessageFilter) ([]*models.Message, int, error) {
	where, args := buildMessageWhere(filter)

	var total int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE %s
		ORDER BY COALESCE(received_at, sent_at, created_at) DESC, id
		LIMIT $%d OFFSET $%d
	`, messageColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, total, nil
}

// ListDueScheduled returns scheduled messages whose send time is at or before now, oldest first.
func ListDueScheduled(ctx context.Context, pool *pgxpool.Pool, now time.Time, limit int) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'scheduled' AND scheduled_send_at <= $1
		ORDER BY scheduled_send_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled messages: %w", err)
	}
	return messages, nil
}

// DeleteExpiredTrash permanently removes trashed messages deleted at or before the cutoff.
func DeleteExpiredTrash(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) (int64, error) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM messages
		WHERE folder = 'trash' AND deleted_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired trash: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteUserTrash permanently removes one user's trashed messages deleted at or before the cutoff.
func DeleteUserTrash(ctx context.Context, pool *pgxpool.Pool, userID string, cutoff time.Time) (int64, error) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM messages
		WHERE user_id = $1 AND folder = 'trash' AND deleted_at <= $2
	`, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete trash: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetMailStats aggregates message counts for one user.
func GetMailStats(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.MailStats, error) {
	stats := models.NewMailStats()

	rows, err := pool.Query(ctx, `
		SELECT
			folder,
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT is_read),
			COUNT(*) FILTER (WHERE is_starred),
			COUNT(*) FILTER (WHERE is_important)
		FROM messages
		WHERE user_id = $1
		GROUP BY folder
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder stats: %w", err)
	}
	for rows.Next() {
		var folder models.Folder
		var total, unread, starred, important int
		if err := rows.Scan(&folder, &total, &unread, &starred, &important); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan folder stats: %w", err)
		}
		stats.Folders[folder] = total
		stats.UnreadByFolder[folder] = unread
		stats.Total += total
		stats.Unread += unread
		stats.Starred += starred
		stats.Important += important
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folder stats: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT c, COUNT(*), COUNT(*) FILTER (WHERE NOT is_read)
		FROM messages, unnest(categories) AS c
		WHERE user_id = $1
		GROUP BY c
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get category stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var total, unread int
		if err := rows.Scan(&category, &total, &unread); err != nil {
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		stats.Categories[category] = total
		stats.UnreadByCategory[category] = unread
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category stats: %w", err)
	}

	return stats, nil
}
