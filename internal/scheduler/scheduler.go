// Package scheduler provides cron-based job scheduling for Alfred.
//
// Recurring work, such as daily reminders, is registered with standard
// 5-field cron expressions.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs int
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		slog.Error("Scheduler.AddJob: invalid cron expression", "error", err, "expr", expr)
		return err
	}

	s.mu.Lock()
	s.jobs++
	count := s.jobs
	s.mu.Unlock()

	slog.Debug("Scheduler.AddJob: job scheduled", "expr", expr, "jobs", count)
	return nil
}

// Jobs returns the number of jobs registered so far.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	slog.Debug("Scheduler.Stop: cron runner stopped")
}
