package reminders

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"signflow/backend/internal/logging"
)

// Forever passed as repeatCount keeps a job firing until it is cancelled.
const Forever = -1

// ErrJobExists is returned when a job key is already scheduled.
var ErrJobExists = errors.New("job already scheduled")

// Scheduler runs keyed recurring jobs.
type Scheduler interface {
	// ScheduleRecurring fires fn after firstDelay and then every interval,
	// repeatCount more times. A negative repeatCount never stops.
	ScheduleRecurring(key string, firstDelay, interval time.Duration, repeatCount int, fn func()) error
	// CancelJob removes the job and reports whether it existed.
	CancelJob(key string) bool
	JobExists(key string) bool
}

// CronScheduler is a Scheduler backed by an in-process cron runner.
type CronScheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewCronScheduler creates a CronScheduler. Call Start to begin firing jobs.
func NewCronScheduler(logger *logging.Logger) *CronScheduler {
	cl := cronLogger{logger.With("component", "scheduler")}
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Start runs the scheduler in its own goroutine.
func (s *CronScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running jobs.
func (s *CronScheduler) Stop() { <-s.cron.Stop().Done() }

func (s *CronScheduler) ScheduleRecurring(key string, firstDelay, interval time.Duration, repeatCount int, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; ok {
		return fmt.Errorf("schedule %s: %w", key, ErrJobExists)
	}

	remaining := repeatCount + 1
	var id cron.EntryID
	job := cron.FuncJob(func() {
		s.mu.Lock()
		if current, ok := s.jobs[key]; !ok || current != id {
			s.mu.Unlock()
			return
		}
		if repeatCount >= 0 {
			remaining--
			if remaining <= 0 {
				delete(s.jobs, key)
				s.cron.Remove(id)
			}
		}
		s.mu.Unlock()
		fn()
	})
	id = s.cron.Schedule(&delayedSchedule{first: firstDelay, every: interval}, job)
	s.jobs[key] = id
	return nil
}

func (s *CronScheduler) CancelJob(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobs[key]
	if !ok {
		return false
	}
	delete(s.jobs, key)
	s.cron.Remove(id)
	return true
}

func (s *CronScheduler) JobExists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// delayedSchedule fires once after first, then every interval.
type delayedSchedule struct {
	first   time.Duration
	every   time.Duration
	started bool
}

func (d *delayedSchedule) Next(t time.Time) time.Time {
	if !d.started {
		d.started = true
		return t.Add(d.first)
	}
	return t.Add(d.every)
}

// cronLogger adapts Logger to the cron runner's logging interface.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
