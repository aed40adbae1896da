package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Cycle runs every configured model once.
type Cycle func(ctx context.Context) Summary

// Scheduler repeats a Cycle on a fixed interval. Missing raw data is retried
// by the next cycle; the ledgers keep finished work from being repeated.
type Scheduler struct {
	cycle    Cycle
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
	last     atomic.Pointer[Summary]
}

// NewScheduler creates a Scheduler that runs cycle immediately and then once
// per interval.
func NewScheduler(cycle Cycle, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cycle:    cycle,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a full cycle has completed.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no run cycle has completed yet")
	}
	return nil
}

// Last returns the summary of the most recent completed cycle.
func (s *Scheduler) Last() (Summary, bool) {
	p := s.last.Load()
	if p == nil {
		return Summary{}, false
	}
	return *p, true
}

// Run executes cycles until ctx is cancelled. A cycle interrupted by
// cancellation is not recorded.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	for {
		summary := s.cycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
		s.last.Store(&summary)
		s.ready.Store(true)
		s.metrics.SchedulerCycles.Inc()

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}
