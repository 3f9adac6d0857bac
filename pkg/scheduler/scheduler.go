// Package scheduler periodically re-syncs live-sheet datasets. Static
// uploads never appear in a sweep; they only change when a user asks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/metrics"
	"github.com/plantrack/dataplane/pkg/source"
)

// Syncer is the slice of the registry the scheduler drives.
type Syncer interface {
	ListLive(ctx context.Context) ([]*dataset.Dataset, error)
	Resync(ctx context.Context, id uuid.UUID) error
}

// Config holds scheduler configuration.
type Config struct {
	Logger *slog.Logger
	Syncer Syncer
	Clock  clockwork.Clock

	// Interval is the sweep period.
	Interval time.Duration
	// MaxConcurrent bounds how many datasets sync at once per sweep.
	MaxConcurrent int
	// SyncTimeout bounds one dataset's sync within a sweep.
	SyncTimeout time.Duration
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Syncer == nil {
		return errors.New("syncer is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 2 * time.Minute
	}
	return nil
}

// Scheduler sweeps live datasets on a fixed interval.
type Scheduler struct {
	cfg Config
	log *slog.Logger
}

// New returns a Scheduler after validating cfg.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	return &Scheduler{cfg: cfg, log: cfg.Logger}, nil
}

// Run sweeps until ctx is cancelled. The first sweep happens after one full
// interval so startup is not a thundering herd against the provider.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler: started", "interval", s.cfg.Interval, "max_concurrent", s.cfg.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep re-syncs every live dataset once, bounded by MaxConcurrent. A
// dataset that is already syncing or waiting on reauthorization is skipped
// without counting as a failure.
func (s *Scheduler) Sweep(ctx context.Context) {
	live, err := s.cfg.Syncer.ListLive(ctx)
	if err != nil {
		metrics.SchedulerSweepTotal.WithLabelValues("error").Inc()
		s.log.Error("scheduler: failed to list live datasets", "error", err)
		return
	}
	if len(live) == 0 {
		metrics.SchedulerSweepTotal.WithLabelValues("ok").Inc()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, d := range live {
		g.Go(func() error {
			syncCtx, cancel := context.WithTimeout(gctx, s.cfg.SyncTimeout)
			defer cancel()
			s.syncOne(syncCtx, d.ID)
			return nil
		})
	}
	g.Wait()
	metrics.SchedulerSweepTotal.WithLabelValues("ok").Inc()
	s.log.Debug("scheduler: sweep complete", "datasets", len(live))
}

// syncOne runs one dataset's resync. A panic in a source adapter must not
// take the whole sweep loop down, so it is recovered and reported here.
func (s *Scheduler) syncOne(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			s.log.Error("scheduler: sync panicked", "dataset_id", id, "panic", r)
		}
	}()

	err := s.cfg.Syncer.Resync(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, dataset.ErrAlreadySyncing):
		s.log.Debug("scheduler: dataset busy, skipping", "dataset_id", id)
	case errors.Is(err, dataset.ErrNotFound):
		// Deleted between list and sync.
	case errors.Is(err, source.ErrAuthExpired):
		s.log.Warn("scheduler: dataset needs reauthorization", "dataset_id", id)
	default:
		s.log.Error("scheduler: sync failed", "dataset_id", id, "error", err)
	}
}
