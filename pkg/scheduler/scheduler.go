// Package scheduler runs the recalculation sweep on a cron schedule inside
// the service process. Deploys that trigger the sweep externally (Cloud
// Scheduler hitting /internal/recalculate) simply never start it.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Config holds scheduler configuration
type Config struct {
	// Manager drives the sweep (required)
	Manager *lifecycle.Manager

	// Schedule is a standard 5-field cron expression (required)
	Schedule string

	// JobTimeout bounds one sweep run.
	// Default: 30 minutes
	JobTimeout time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger lifecycle.Logger
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	config Config
}

// New creates a scheduler with the sweep job registered.
func New(config Config) (*Scheduler, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if config.Schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &lifecycle.NoopLogger{}
	}

	s := &Scheduler{cron: cron.New(), config: config}
	if _, err := s.cron.AddFunc(config.Schedule, s.runSweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.Schedule, err)
	}
	return s, nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.config.Logger.Info("sweep scheduler started",
		lifecycle.Field{Key: "schedule", Value: s.config.Schedule})
	s.cron.Start()
}

// Stop halts the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	processed, err := s.config.Manager.RecalculateAll(ctx)
	if err != nil {
		s.config.Logger.Error("scheduled sweep finished with errors",
			lifecycle.Field{Key: "processed", Value: processed},
			lifecycle.Field{Key: "error", Value: err.Error()})
		return
	}
	s.config.Logger.Info("scheduled sweep finished",
		lifecycle.Field{Key: "processed", Value: processed})
}
