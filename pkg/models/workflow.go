package models

import (
	"time"
)

// Workflow is a single document-signing campaign from one owner to one or more recipients.
type Workflow struct {
	ID                   string              `json:"id" db:"id"`
	Name                 string              `json:"name" db:"name"`
	Owner                string              `json:"owner" db:"owner"`
	TemplateID           string              `json:"template_id" db:"template_id"`
	Status               WorkflowStatus      `json:"status" db:"status"`
	ValidUntil           time.Time           `json:"valid_until" db:"valid_until"` // UTC date, inclusive
	ReminderIntervalDays int                 `json:"reminder_interval_days" db:"reminder_interval_days"`
	AutoReminder         bool                `json:"auto_reminder" db:"auto_reminder"`
	RecipientConfigMode  RecipientConfigMode `json:"recipient_config_mode" db:"recipient_config_mode"`
	CancelReason         *string             `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
}

// IsValidOn reports whether signing is still allowed on the calendar date of now.
func (w *Workflow) IsValidOn(now time.Time) bool {
	return !DateOf(now).After(DateOf(w.ValidUntil))
}

// RemainingDays returns the number of whole days between today and the validity deadline.
// It is negative once the deadline has passed.
func (w *Workflow) RemainingDays(now time.Time) int {
	return int(DateOf(w.ValidUntil).Sub(DateOf(now)).Hours() / 24)
}

// EffectiveStatus reports the status callers should see. An in-progress workflow
// past its deadline is reported as expired even before the sweep persists it.
func (w *Workflow) EffectiveStatus(now time.Time) WorkflowStatus {
	if w.Status == WorkflowStatusInProgress && !w.IsValidOn(now) {
		return WorkflowStatusExpired
	}
	return w.Status
}
