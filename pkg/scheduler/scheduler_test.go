package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeCounter struct {
	mu      sync.Mutex
	pending int
	err     error
	calls   int
}

func (f *fakeCounter) CountPending(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pending, f.err
}

func (f *fakeCounter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTrigger struct {
	mu          sync.Mutex
	err         error
	calls       int
	triggeredBy string
}

func (f *fakeTrigger) Trigger(ctx context.Context, triggeredBy string) (*models.ResolutionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.triggeredBy = triggeredBy
	if f.err != nil {
		return nil, f.err
	}
	return &models.ResolutionRun{ID: "run-1", Status: models.RunStatusRunning}, nil
}

func (f *fakeTrigger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTrigger) lastTriggeredBy() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggeredBy
}

func TestSchedulerTriggersWhenBatchReady(t *testing.T) {
	counter := &fakeCounter{pending: 5}
	trigger := &fakeTrigger{}

	s := NewScheduler(counter, trigger, Config{PollInterval: 10 * time.Millisecond, MinBatch: 3}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return trigger.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.RunTriggerScheduler, trigger.lastTriggeredBy())
}

func TestSchedulerSkipsBelowMinBatch(t *testing.T) {
	counter := &fakeCounter{pending: 2}
	trigger := &fakeTrigger{}

	s := NewScheduler(counter, trigger, Config{PollInterval: 10 * time.Millisecond, MinBatch: 3}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	// Let several cycles pass; none should trigger.
	assert.Eventually(t, func() bool {
		return counter.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, trigger.callCount())
}

func TestSchedulerSkipsWhenCountFails(t *testing.T) {
	counter := &fakeCounter{err: errors.New("connection refused")}
	trigger := &fakeTrigger{}

	s := NewScheduler(counter, trigger, Config{PollInterval: 10 * time.Millisecond, MinBatch: 1}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return counter.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, trigger.callCount())
}

func TestSchedulerToleratesLockContention(t *testing.T) {
	counter := &fakeCounter{pending: 10}
	trigger := &fakeTrigger{err: fmt.Errorf("resolution run already in progress: %w", redis.ErrLockNotAcquired)}

	s := NewScheduler(counter, trigger, Config{PollInterval: 10 * time.Millisecond, MinBatch: 1}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	// Losing the lock race is routine; the loop keeps cycling.
	assert.Eventually(t, func() bool {
		return trigger.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	assert.True(t, s.IsRunning())
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := NewScheduler(&fakeCounter{}, &fakeTrigger{}, DefaultConfig(), testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSchedulerAlreadyRunning)
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(&fakeCounter{}, &fakeTrigger{}, DefaultConfig(), testLogger())
	assert.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestSchedulerStop(t *testing.T) {
	counter := &fakeCounter{pending: 0}
	s := NewScheduler(counter, &fakeTrigger{}, Config{PollInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())

	// No cycles after stop.
	calls := counter.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, counter.callCount())
}

func TestNewSchedulerAppliesDefaults(t *testing.T) {
	s := NewScheduler(&fakeCounter{}, &fakeTrigger{}, Config{}, testLogger())
	assert.Equal(t, DefaultPollInterval, s.config.PollInterval)
	assert.Equal(t, DefaultMinBatch, s.config.MinBatch)
}
