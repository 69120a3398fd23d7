// Package sweeper runs the periodic background passes: sending due scheduled mail
// and purging expired trash.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// runEvery calls pass once immediately and then on every tick until ctx is cancelled.
func runEvery(ctx context.Context, interval time.Duration, pass func(ctx context.Context, now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pass(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pass(ctx, now)
		}
	}
}

func logStopped(ctx context.Context, logger *slog.Logger, name string) {
	logger.InfoContext(context.WithoutCancel(ctx), "Sweeper: stopped", slog.String("sweeper", name))
}
