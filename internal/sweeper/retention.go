package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
)

// DefaultTrashRetention is how long a message stays in trash before it is purged.
const DefaultTrashRetention = 30 * 24 * time.Hour

// RetentionSweeper permanently deletes messages that have sat in trash past the retention period.
type RetentionSweeper struct {
	store     db.Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func NewRetentionSweeper(store db.Store, interval, retention time.Duration, logger *slog.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = DefaultTrashRetention
	}
	return &RetentionSweeper{store: store, interval: interval, retention: retention, logger: logger}
}

// RunOnce purges trash deleted at or before now minus the retention period.
// Messages already removed by the user are simply not counted.
func (s *RetentionSweeper) RunOnce(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.store.DeleteExpiredTrash(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge trash: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "Sweeper: purged expired trash", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

// PurgeUser runs the same purge for one user on demand.
func (s *RetentionSweeper) PurgeUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	deleted, err := s.store.DeleteUserTrash(ctx, userID, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge trash: %w", err)
	}
	s.logger.InfoContext(ctx, "Sweeper: purged trash on request",
		slog.String("user_id", userID), slog.Int64("deleted", deleted))
	return deleted, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "Sweeper: retention sweeper started",
		slog.Duration("interval", s.interval), slog.Duration("retention", s.retention))
	runEvery(ctx, s.interval, func(ctx context.Context, now time.Time) {
		if _, err := s.RunOnce(ctx, now); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Sweeper: retention pass failed", sloki.WrapError(err))
		}
	})
	logStopped(ctx, s.logger, "retention")
}
