package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"slugbin/svc/util"
)

const (
	checkpointInterval  = 5 * time.Minute
	truncateAfterPages  = 1000
	integrityCheckLimit = 30 * time.Second
)

// RunWALMaintenance checkpoints the write-ahead log every interval until ctx
// is done, then performs one final checkpoint.
func (s *SQLite) RunWALMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = checkpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Checkpoint(ctx); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), integrityCheckLimit)
			if err := s.Checkpoint(finalCtx); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			cancel()
			return
		}
	}
}

// Checkpoint runs a PASSIVE checkpoint and escalates to TRUNCATE when the log
// has grown or readers kept pages busy.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	start := time.Now()
	var busy, logPages, done int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &logPages, &done)
	if err != nil {
		return errors.Wrap(err, "passive checkpoint")
	}
	util.Debug().Int("busy", busy).Int("log", logPages).Int("checkpointed", done).Msg("PASSIVE checkpoint result")
	if logPages > truncateAfterPages || busy > 0 {
		util.Info().Msg("escalating to TRUNCATE checkpoint")
		if err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logPages, &done); err != nil {
			return errors.Wrap(err, "truncate checkpoint")
		}
		util.Info().Int("busy", busy).Int("log", logPages).Int("checkpointed", done).Msg("TRUNCATE checkpoint result")
	}
	if err := s.verifyIntegrity(ctx); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}

func (s *SQLite) verifyIntegrity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, integrityCheckLimit)
	defer cancel()
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity_check query")
	}
	if result != "ok" {
		return errors.Errorf("integrity_check returned: %s", result)
	}
	return nil
}
