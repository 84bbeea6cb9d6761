package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps robfig/cron. It tracks the periodic scan job separately
// from auxiliary background jobs so the status API can report when the next
// scan will run.
type Scheduler struct {
	mu     sync.RWMutex
	c      *cron.Cron
	scanID cron.EntryID
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c: cron.New(),
	}
}

// SetScanJob replaces the tracked scan job with the given cron expression
// and callback. If the scheduler is already running, the new job takes
// effect immediately.
func (s *Scheduler) SetScanJob(expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanID != 0 {
		s.c.Remove(s.scanID)
	}

	id, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.scanID = id
	slog.Info("scheduler: scan job set", "cron", expr)
	return nil
}

// AddJob registers an auxiliary background job. Unlike SetScanJob it does
// not affect the tracked scan job or the reported next-run time.
func (s *Scheduler) AddJob(name, expr string, fn func()) error {
	if _, err := s.c.AddFunc(expr, fn); err != nil {
		return fmt.Errorf("job %q: invalid cron expression %q: %w", name, expr, err)
	}
	slog.Info("scheduler: background job added", "job", name, "cron", expr)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop gracefully.
func (s *Scheduler) Stop() {
	s.c.Stop()
}

// NextScanAt returns the next scheduled scan time, or nil if no scan job
// is set.
func (s *Scheduler) NextScanAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.scanID == 0 {
		return nil
	}
	entry := s.c.Entry(s.scanID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}
