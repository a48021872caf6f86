// Package scheduler runs pingd's daily background tasks.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
)

// Scheduler prunes old statistics once a day at the configured time.
type Scheduler struct {
	cfg    *config.Config
	stats  *db.StatsDatabase
	now    func() time.Time
	logger zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, stats *db.StatsDatabase) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		stats:  stats,
		now:    time.Now,
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs the retention loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	for {
		nextRun := s.nextRun()
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("statistics pruning scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.PruneStats()
		}
	}
}

// PruneStats deletes statistics older than the retention period.
func (s *Scheduler) PruneStats() {
	retention := s.cfg.GetApplicationData().Stats.RetentionDays
	if retention < 1 {
		return
	}

	removed, err := s.stats.Prune(retention, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune statistics")
		return
	}

	s.logger.Info().
		Int("retention_days", retention).
		Int64("removed_rows", removed).
		Msg("statistics pruned")
}

// nextRun returns the next occurrence of the configured cleanup time (HH:MM,
// local time). The hot-reloaded value is read on every iteration.
func (s *Scheduler) nextRun() time.Time {
	hour, minute := parseClock(s.cfg.GetApplicationData().Stats.CleanupTime)

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// parseClock parses "HH:MM", falling back to 04:00.
func parseClock(value string) (hour, minute int) {
	hour, minute = 4, 0

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return
	}

	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return
	}
	return h, m
}
