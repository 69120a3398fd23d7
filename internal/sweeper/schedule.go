package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/outbound"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// ScheduledSender sends one due scheduled message and records the outcome on it. It returns
// outbound.ErrNotScheduled when the message stopped being scheduled after it was listed.
type ScheduledSender interface {
	DeliverScheduled(ctx context.Context, msg *models.Message) error
}

type ScheduleConfig struct {
	Interval time.Duration
	// SendsPerSecond paces provider calls. Zero or less disables pacing.
	SendsPerSecond float64
	BatchSize      int
	Concurrency    int
}

// ScheduleResult counts the outcome of one pass.
type ScheduleResult struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

// ScheduleSweeper sends scheduled messages once their time has come.
type ScheduleSweeper struct {
	store   db.Store
	sender  ScheduledSender
	cfg     ScheduleConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewScheduleSweeper(store db.Store, sender ScheduledSender, cfg ScheduleConfig, logger *slog.Logger) *ScheduleSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 1)
	}

	return &ScheduleSweeper{store: store, sender: sender, cfg: cfg, limiter: limiter, logger: logger}
}

// RunOnce sends every message due at now. A failure on one message does not stop the others;
// the error return is reserved for failing to list due messages.
func (s *ScheduleSweeper) RunOnce(ctx context.Context, now time.Time) (ScheduleResult, error) {
	due, err := s.store.ListDueScheduled(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("failed to list due scheduled messages: %w", err)
	}

	var sent, failed, skipped atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, msg := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			err := s.sender.DeliverScheduled(ctx, msg)
			if errors.Is(err, outbound.ErrNotScheduled) {
				skipped.Add(1)
				s.logger.InfoContext(ctx, "Sweeper: scheduled message changed before sending, skipped",
					slog.String("message_id", msg.ID), slog.String("user_id", msg.UserID))
				return nil
			}
			if err != nil {
				failed.Add(1)
				s.logger.WarnContext(ctx, "Sweeper: scheduled send failed",
					slog.String("message_id", msg.ID), slog.String("user_id", msg.UserID), sloki.WrapError(err))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := ScheduleResult{Due: len(due), Sent: int(sent.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
	if result.Due > 0 {
		s.logger.InfoContext(ctx, "Sweeper: scheduled pass done",
			slog.Int("due", result.Due), slog.Int("sent", result.Sent), slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped))
	}
	return result, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *ScheduleSweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "Sweeper: scheduled send sweeper started", slog.Duration("interval", s.cfg.Interval))
	runEvery(ctx, s.cfg.Interval, func(ctx context.Context, now time.Time) {
		if _, err := s.RunOnce(ctx, now); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Sweeper: scheduled pass failed", sloki.WrapError(err))
		}
	})
	logStopped(ctx, s.logger, "schedule")
}
