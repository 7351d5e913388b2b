package models

import (
	"time"
)

// WorkflowRecipient binds a template role to a concrete person for one workflow.
type WorkflowRecipient struct {
	ID                  string       `json:"id" db:"id"`
	WorkflowID          string       `json:"workflow_id" db:"workflow_id"`
	TemplateRecipientID string       `json:"template_recipient_id" db:"template_recipient_id"`
	Role                string       `json:"role" db:"role"`
	Priority            int          `json:"priority" db:"priority"`
	DeliveryType        DeliveryType `json:"delivery_type" db:"delivery_type"`
	DefaultUser         *User        `json:"default_user,omitempty"`
	CustomUser          *User        `json:"custom_user,omitempty"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
}

// Identity resolves who receives this recipient's invitation. A custom user
// overrides the template default. It returns nil when neither is set.
func (r *WorkflowRecipient) Identity() *User {
	if r.CustomUser != nil && r.CustomUser.Email != "" {
		return r.CustomUser
	}
	if r.DefaultUser != nil && r.DefaultUser.Email != "" {
		return r.DefaultUser
	}
	return nil
}

// WorkflowEnvelope is the per-recipient dispatch unit. Exactly one exists per recipient.
type WorkflowEnvelope struct {
	ID          string         `json:"id" db:"id"`
	WorkflowID  string         `json:"workflow_id" db:"workflow_id"`
	RecipientID string         `json:"recipient_id" db:"recipient_id"`
	Status      EnvelopeStatus `json:"status" db:"status"`
	SentAt      *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// EnvelopeWithRecipient pairs an envelope with its owning recipient for dispatch ordering.
type EnvelopeWithRecipient struct {
	Envelope  *WorkflowEnvelope
	Recipient *WorkflowRecipient
}
