package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// RunRefresher refreshes all sources immediately and then every interval until ctx is done.
func (a *App) RunRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("refresh interval must be positive")
	}

	a.refreshOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("Starting rates refresh loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Context done, stopping rates refresh loop")
			return ctx.Err()
		case <-ticker.C:
			a.logger.Debug("Rates refresh tick")
			a.refreshOnce(ctx)
		}
	}
}

func (a *App) refreshOnce(ctx context.Context) {
	outcome, err := a.RefreshRates(ctx, domain.SourceAll)
	if err != nil {
		if errors.Is(err, domain.ErrNoSourcesAvailable) {
			a.logger.Warn("No rate sources available, keeping cached rates", zap.Error(err))
		} else {
			a.logger.Error("Rates refresh failed", zap.Error(err))
		}
		return
	}

	a.logger.Info("Rates refreshed",
		zap.Int("updated", outcome.Result.UpdatedCount),
		zap.Int("total", outcome.Result.NewTable.Len()),
		zap.Strings("failed_sources", sourceNames(outcome.Result.FailedSources())),
		zap.String("history_id", outcome.Entry.ID))
}

func sourceNames(list []domain.Source) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.String())
	}
	return out
}
