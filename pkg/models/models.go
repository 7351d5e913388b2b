// Package models defines the domain models for the signing workflow service
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a signing workflow
type WorkflowStatus string

const (
	WorkflowStatusDraft      WorkflowStatus = "draft"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
	WorkflowStatusExpired    WorkflowStatus = "expired"
)

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusCancelled
}

// EnvelopeStatus represents the dispatch state of a single recipient envelope
type EnvelopeStatus string

const (
	EnvelopeStatusDraft      EnvelopeStatus = "draft"
	EnvelopeStatusInProgress EnvelopeStatus = "in_progress"
	EnvelopeStatusCompleted  EnvelopeStatus = "completed"
	EnvelopeStatusFailed     EnvelopeStatus = "failed"
	EnvelopeStatusExpired    EnvelopeStatus = "expired"
)

// SigningMode controls whether recipients sign one at a time or concurrently
type SigningMode string

const (
	SigningModeSequential SigningMode = "sequential"
	SigningModeParallel   SigningMode = "parallel"
)

// DeliveryType describes what a recipient is expected to do with the document
type DeliveryType string

const (
	DeliveryTypeNeedsToSign DeliveryType = "needs_to_sign"
	DeliveryTypeCC          DeliveryType = "cc"
)

// RequiresSignature reports whether the recipient must sign before the workflow can complete.
func (d DeliveryType) RequiresSignature() bool {
	return d == DeliveryTypeNeedsToSign
}

// RecipientConfigMode records how workflow recipients were resolved at creation
type RecipientConfigMode string

const (
	RecipientConfigTemplate RecipientConfigMode = "template"
	RecipientConfigCustom   RecipientConfigMode = "custom"
)

// User identifies a person by email. Identity resolution happens outside this service.
type User struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name,omitempty"`
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
