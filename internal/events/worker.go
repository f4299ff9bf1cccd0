package events

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartExpiryWorker gets a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// PruneCallback is called after a sweep that dropped at least one event.
type PruneCallback func(dropped int)

// StartExpiryWorker runs a background goroutine that periodically prunes
// expired one-time events so the stored collection stays compact even when
// nobody lists events.
func StartExpiryWorker(ctx context.Context, repo *Repository, interval time.Duration, onPrune PruneCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Expiry worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, onPrune)
			case <-ctx.Done():
				slog.Info("Expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo *Repository, onPrune PruneCallback) {
	dropped, err := repo.Prune(ctx)
	if err != nil {
		slog.Error("Expiry worker failed to prune events", "error", err)
		return
	}
	if dropped == 0 {
		return
	}

	slog.Info("Expiry worker pruned events", "dropped", dropped)
	if onPrune != nil {
		onPrune(dropped)
	}
}
