// Package startup brings external dependencies up in order with retries, so a
// freshly scheduled replica survives its backing services arriving late.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one external system the service cannot run without.
// Dependencies start in registration order and stop in reverse.
type Dependency interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts dependencies with fibonacci backoff between attempts. A
// failed attempt restarts from the first unstarted dependency; already
// started ones are not started twice.
type Manager struct {
	deps        []Dependency
	started     map[string]bool
	logger      ectologger.Logger
	maxAttempts int
}

func NewManager(logger ectologger.Logger, maxAttempts int) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Manager{
		started:     make(map[string]bool),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (m *Manager) Add(dep Dependency) {
	m.deps = append(m.deps, dep)
}

// Start brings every dependency up, retrying failed attempts with fibonacci
// backoff until maxAttempts is exhausted.
func (m *Manager) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		lastErr = m.startAll(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == m.maxAttempts {
			break
		}

		wait := time.Duration(a) * time.Second
		m.logger.Infof("Retrying startup in %s (attempt %d/%d)", wait, attempt, m.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *Manager) startAll(ctx context.Context, attempt int) error {
	for _, dep := range m.deps {
		if m.started[dep.Name()] {
			continue
		}

		m.logger.Infof("Starting dependency '%s'", dep.Name())
		if err := dep.Start(ctx); err != nil {
			m.logger.WithError(err).Errorf("Dependency '%s' failed on attempt %d", dep.Name(), attempt)
			return err
		}
		m.started[dep.Name()] = true
	}
	return nil
}

// Stop stops started dependencies in reverse registration order. It keeps
// going past individual failures and returns the first error seen.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.deps) - 1; i >= 0; i-- {
		dep := m.deps[i]
		if !m.started[dep.Name()] {
			continue
		}

		m.logger.Infof("Stopping dependency '%s'", dep.Name())
		if err := dep.Stop(ctx); err != nil {
			m.logger.WithError(err).Errorf("Failed to stop dependency '%s'", dep.Name())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.started[dep.Name()] = false
	}
	return firstErr
}

// Func adapts start/stop closures into a Dependency.
type Func struct {
	DepName string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) Name() string { return f.DepName }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}
