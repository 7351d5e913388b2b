package models

import (
	"time"
)

// Template defines the signing mode and the ordered recipient roles of a workflow.
type Template struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Owner       string              `json:"owner"`
	SigningMode SigningMode         `json:"signing_mode"`
	Recipients  []TemplateRecipient `json:"recipients"`
	CreatedAt   time.Time           `json:"created_at"`
}

// TemplateRecipient is a role slot in a template. Lower priority values sign first.
type TemplateRecipient struct {
	ID           string       `json:"id"`
	TemplateID   string       `json:"template_id"`
	Role         string       `json:"role"`
	Priority     int          `json:"priority"`
	DeliveryType DeliveryType `json:"delivery_type"`
	DefaultUser  *User        `json:"default_user,omitempty"`
}
