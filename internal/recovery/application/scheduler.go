package application

import (
	"context"
	"errors"
	"log"
	"time"
)

// Scheduler invokes the runner on a fixed interval.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	logger   *log.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runner.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && s.logger != nil {
				s.logger.Printf("recovery schedule error: %v", err)
			}
		}
	}
}
