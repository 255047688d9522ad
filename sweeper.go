package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/taskauth/internal/auth"
)

// runBlacklistSweeper purges expired blacklist entries every interval until
// ctx is cancelled. A zero interval disables it.
func runBlacklistSweeper(ctx context.Context, m *auth.Manager, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		logger.Info("blacklist sweeper disabled")
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepBlacklist(ctx, m, logger)
		}
	}
}

// sweepBlacklist runs one purge. Failures are logged, never returned.
func sweepBlacklist(ctx context.Context, m *auth.Manager, logger *slog.Logger) int64 {
	n, err := m.PurgeBlacklist(ctx)
	if err != nil {
		logger.WarnContext(ctx, "blacklist cleanup failed", "error", err)
		return 0
	}
	blacklistPurgedTotal.Add(float64(n))
	if n > 0 {
		logger.InfoContext(ctx, "blacklist cleanup", "purged", n)
	}
	return n
}
