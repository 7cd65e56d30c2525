package crawl

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Job is one crawl cycle.
type Job interface {
	Run(ctx context.Context) (*RunResult, error)
}

// SchedulerConfig holds configuration for creating a Scheduler.
type SchedulerConfig struct {
	Job Job

	// Interval is the wait between the end of one cycle and the start of
	// the next.
	// Default: 1 hour
	Interval time.Duration

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Scheduler runs a job repeatedly until its context is cancelled. A cycle in
// flight always runs to completion; cancellation is observed between cycles.
type Scheduler struct {
	job      Job
	interval time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu     sync.RWMutex
	cycles int
	last   *RunResult
	err    error
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		job:      cfg.Job,
		interval: interval,
		clock:    clock,
		logger:   cfg.Logger,
	}
}

// Run blocks until ctx is cancelled and returns nil on a clean stop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

	for ctx.Err() == nil {
		result, err := s.job.Run(context.WithoutCancel(ctx))
		s.mu.Lock()
		s.cycles++
		s.last, s.err = result, err
		cycle := s.cycles
		s.mu.Unlock()

		event := s.logger.Info()
		if err != nil {
			event = s.logger.Error().Err(err)
		}
		if result != nil {
			event = event.Str("run_id", result.RunID).Int("rows", result.Rows)
		}
		event.Int("cycle", cycle).Dur("next_in", s.interval).Msg("scheduled cycle finished")

		select {
		case <-ctx.Done():
		case <-s.clock.After(s.interval):
		}
	}

	s.logger.Info().Int("cycles", s.Cycles()).Msg("scheduler stopped")
	return nil
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

// Last returns the result and error of the most recent cycle.
func (s *Scheduler) Last() (*RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.err
}
