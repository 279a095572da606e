// Package scheduler provides periodic scheduling for WebhookGate.
//
// It drives recurring work (the delivery drain pass) on a fixed interval or
// a cron expression.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based periodic triggering.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a scheduler.
func NewScheduler() *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddEvery schedules a task to run repeatedly at the given interval.
func (s *Scheduler) AddEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), task)
	return err
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
