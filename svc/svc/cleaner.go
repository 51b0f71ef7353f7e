package svc

import (
	"context"
	"time"

	"slugbin/metrics"
	"slugbin/svc/util"
)

// RunCleaner purges expired pastes every interval until ctx is done. Lazy
// eviction on access stays the primary mechanism; this only bounds storage
// for pastes nobody touches again.
func (p *Paste) RunCleaner(ctx context.Context, interval time.Duration) {
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			p.CleanupOnce(ctx)
		}
	}
}

// CleanupOnce runs a single sweep and returns how many pastes were removed.
func (p *Paste) CleanupOnce(ctx context.Context) int {
	metrics.CleanupCycles.Inc()
	deleted, err := p.store.DeleteExpired(ctx, p.now())
	if deleted > 0 {
		metrics.PasteEvicted.WithLabelValues("sweep", "ok").Add(float64(deleted))
	}
	if err != nil {
		metrics.PasteEvicted.WithLabelValues("sweep", "error").Inc()
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup failed")
		return deleted
	}
	if deleted > 0 {
		util.Info().
			Int("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup completed")
	}
	return deleted
}
