package app

import (
	"context"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
)

// startSyncScheduler re-runs the sync pipeline on a fixed interval. A tick
// is skipped when the persisted history is still fresh.
func startSyncScheduler(ctx context.Context, a *App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("Sync scheduler: stopped")
			return
		case <-ticker.C:
			refreshHistory(ctx, a)
		}
	}
}

func refreshHistory(ctx context.Context, a *App) {
	start := time.Now()

	if history, err := a.Storage.ValuationStorage().GetHistory(ctx); err == nil {
		if common.IsFresh(history.UpdatedAt, common.FreshnessValuation) {
			a.Logger.Debug().Msg("Sync tick: history still fresh, skipping")
			return
		}
	}

	if err := a.RunOnce(ctx, false); err != nil {
		a.Logger.Warn().Err(err).Msg("Scheduled sync failed")
		return
	}

	a.Logger.Info().Dur("elapsed", time.Since(start)).Msg("Scheduled sync complete")
}
