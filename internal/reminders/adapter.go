// Package reminders schedules the recurring reminder notifications of a
// signing workflow.
package reminders

import (
	"errors"
	"fmt"
	"time"

	"signflow/backend/internal/logging"
)

// Day is the length of one reminder interval day.
const Day = 24 * time.Hour

// JobKey returns the deterministic scheduler key for a workflow's reminders.
func JobKey(workflowID string) string {
	return "workflow-reminder:" + workflowID
}

// Adapter maps workflow reminders onto a Scheduler. Schedule is idempotent and
// Cancel is safe when nothing is scheduled.
type Adapter struct {
	scheduler Scheduler
	fire      func(workflowID string)
	day       time.Duration
	logger    *logging.Logger
}

// NewAdapter creates an Adapter. fire runs each time a workflow's reminder is due.
func NewAdapter(scheduler Scheduler, fire func(workflowID string), logger *logging.Logger) *Adapter {
	return &Adapter{
		scheduler: scheduler,
		fire:      fire,
		day:       Day,
		logger:    logger.With("component", "reminders"),
	}
}

// WithDayLength overrides the length of an interval day.
func (a *Adapter) WithDayLength(d time.Duration) *Adapter {
	a.day = d
	return a
}

// Schedule registers reminders for the workflow every intervalDays, first
// firing after one interval and then repeatCount more times. It does nothing
// when reminders already exist for the workflow.
func (a *Adapter) Schedule(workflowID string, intervalDays, repeatCount int) error {
	if intervalDays < 1 {
		return fmt.Errorf("reminder interval must be at least one day, got %d", intervalDays)
	}
	if repeatCount < 0 {
		repeatCount = 0
	}
	key := JobKey(workflowID)
	if a.scheduler.JobExists(key) {
		a.logger.Debug("reminders already scheduled", "workflow_id", workflowID)
		return nil
	}

	interval := time.Duration(intervalDays) * a.day
	err := a.scheduler.ScheduleRecurring(key, interval, interval, repeatCount, func() { a.fire(workflowID) })
	if errors.Is(err, ErrJobExists) {
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.Info("reminders scheduled",
		"workflow_id", workflowID,
		"interval_days", intervalDays,
		"repeat_count", repeatCount,
	)
	return nil
}

// Cancel removes the workflow's reminders, if any.
func (a *Adapter) Cancel(workflowID string) {
	if a.scheduler.CancelJob(JobKey(workflowID)) {
		a.logger.Info("reminders cancelled", "workflow_id", workflowID)
	}
}

// Exists reports whether reminders are scheduled for the workflow.
func (a *Adapter) Exists(workflowID string) bool {
	return a.scheduler.JobExists(JobKey(workflowID))
}
