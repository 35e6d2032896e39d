package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
	"reelforge/internal/store"
)

const (
	defaultInterval  = 60 * time.Second
	defaultBatchSize = 50
)

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Scheduler posts due entries on a fixed interval. Any number of schedulers
// may run against the same store; the claim decides who posts.
type Scheduler struct {
	entries store.QueueStore
	poster  *Poster
	cfg     SchedulerConfig
	now     func() time.Time
	logger  *zap.Logger
}

func NewScheduler(entries store.QueueStore, poster *Poster, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Scheduler{
		entries: entries,
		poster:  poster,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("scheduler"),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", zap.Duration("interval", s.cfg.Interval), zap.Int("batch", s.cfg.BatchSize))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("Scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick posts every due entry this scheduler manages to claim and returns how
// many it posted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	due, err := s.entries.ListDue(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, apperr.Persistence("list due entries", err)
	}

	posted := 0
	for _, entry := range due {
		if ctx.Err() != nil {
			return posted, nil
		}

		won, err := s.entries.Claim(ctx, entry.ID)
		metrics.QueueClaims.WithLabelValues(sourceScheduler, claimOutcome(won, err)).Inc()
		if err != nil {
			s.logger.Warn("Failed to claim entry", zap.String("entry", entry.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		if _, err := s.poster.Post(ctx, entry); err != nil {
			s.logger.Error("Failed to post entry", zap.String("entry", entry.ID), zap.Error(err))
			continue
		}
		posted++
	}
	if posted > 0 {
		s.logger.Info("Scheduler tick", zap.Int("due", len(due)), zap.Int("posted", posted))
	}
	return posted, nil
}
