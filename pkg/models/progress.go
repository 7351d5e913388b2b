package models

import (
	"time"
)

// WorkflowProgress is a read-only snapshot of a workflow and its recipients.
type WorkflowProgress struct {
	Workflow        *Workflow           `json:"workflow"`
	EffectiveStatus WorkflowStatus      `json:"effective_status"`
	SigningMode     SigningMode         `json:"signing_mode"`
	Recipients      []RecipientProgress `json:"recipients"`
	Completed       int                 `json:"completed"`
	Total           int                 `json:"total"`
	Documents       []DocumentProgress  `json:"documents,omitempty"`
}

// RecipientProgress is one row of WorkflowProgress, ordered by priority.
type RecipientProgress struct {
	RecipientID    string         `json:"recipient_id"`
	EnvelopeID     string         `json:"envelope_id"`
	Role           string         `json:"role"`
	Priority       int            `json:"priority"`
	DeliveryType   DeliveryType   `json:"delivery_type"`
	Email          string         `json:"email,omitempty"`
	Name           string         `json:"name,omitempty"`
	EnvelopeStatus EnvelopeStatus `json:"envelope_status"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// DocumentProgress lists the versions recorded for one signed document.
type DocumentProgress struct {
	Document *SignedDocument          `json:"document"`
	Versions []*SignedDocumentVersion `json:"versions"`
}
