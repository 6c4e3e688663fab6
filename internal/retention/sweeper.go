package retention

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/rs/zerolog"
)

// Config bounds how long log entries and usage rows are kept.
type Config struct {
	LogRetentionDays   int
	UsageRetentionDays int
	SweepInterval      time.Duration
}

// Sweeper periodically deletes session log entries and daily usage rows
// older than the retention window.
type Sweeper struct {
	config   Config
	logs     storage.SessionLogStore
	usage    storage.UsageStore
	clock    quartz.Clock
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewSweeper creates a retention sweeper.
func NewSweeper(cfg Config, logs storage.SessionLogStore, usage storage.UsageStore, clock quartz.Clock, logger zerolog.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Sweeper{
		config:   cfg,
		logs:     logs,
		usage:    usage,
		clock:    clock,
		logger:   logger.With().Str("component", "retention").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Dur("interval", s.config.SweepInterval).
		Int("log_retention_days", s.config.LogRetentionDays).
		Int("usage_retention_days", s.config.UsageRetentionDays).
		Msg("Retention sweeper started")
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Retention sweeper stopped")
}

func (s *Sweeper) run() {
	for {
		timer := s.clock.NewTimer(s.config.SweepInterval)
		select {
		case <-timer.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// Sweep deletes everything past the retention windows. A zero or negative
// retention disables that part of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()

	if s.config.LogRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.config.LogRetentionDays)
		deleted, err := s.logs.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to clean up old session log entries")
		} else if deleted > 0 {
			s.logger.Info().
				Int("deleted", deleted).
				Time("cutoff", cutoff).
				Msg("Old session log entries cleaned up")
		}
	}

	if s.config.UsageRetentionDays > 0 {
		cutoffDate := now.AddDate(0, 0, -s.config.UsageRetentionDays).UTC().Format("2006-01-02")
		deleted, err := s.usage.DeleteBefore(ctx, cutoffDate)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to clean up old daily usage rows")
		} else if deleted > 0 {
			s.logger.Info().
				Int("deleted", deleted).
				Str("cutoff_date", cutoffDate).
				Msg("Old daily usage rows cleaned up")
		}
	}
}
