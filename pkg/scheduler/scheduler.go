// Package scheduler triggers resolution runs when unresolved records have
// accumulated in staging.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/redis"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = 5 * time.Minute

	// DefaultMinBatch is the default number of unresolved records that makes a run worthwhile
	DefaultMinBatch = 1
)

// PendingCounter reports how many staged records no completed run has covered
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// RunTrigger starts a resolution run
type RunTrigger interface {
	Trigger(ctx context.Context, triggeredBy string) (*models.ResolutionRun, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to check staging for unresolved records
	PollInterval time.Duration

	// MinBatch is the minimum number of unresolved records before a run is triggered
	MinBatch int
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		MinBatch:     DefaultMinBatch,
	}
}

// Scheduler polls staging and triggers resolution runs. The run lock makes
// triggering safe across replicas; a cycle that loses the lock race just
// skips its turn.
type Scheduler struct {
	records PendingCounter
	runs    RunTrigger
	config  Config
	logger  ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(records PendingCounter, runs RunTrigger, config Config, logger ectologger.Logger) *Scheduler {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MinBatch <= 0 {
		config.MinBatch = DefaultMinBatch
	}

	return &Scheduler{
		records:  records,
		runs:     runs,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s min_batch=%d",
		s.config.PollInterval, s.config.MinBatch)

	go s.pollLoop(ctx)

	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// pollLoop continuously polls staging for unresolved records
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle runs a single scheduling cycle
func (s *Scheduler) runCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.runCycle")
	defer span.End()

	pending, err := s.records.CountPending(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to count unresolved records")
		return
	}

	if pending < s.config.MinBatch {
		s.logger.WithContext(ctx).Debugf("Skipping cycle: %d unresolved records, need %d", pending, s.config.MinBatch)
		return
	}

	run, err := s.runs.Trigger(ctx, models.RunTriggerScheduler)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			s.logger.WithContext(ctx).Debug("Resolution run already in progress, skipping cycle")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Failed to trigger resolution run")
		return
	}

	s.logger.WithContext(ctx).Infof("Triggered resolution run %s for %d unresolved records", run.ID, pending)
}
