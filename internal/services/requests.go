package services

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"signflow/backend/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateTemplateRequest defines a reusable recipient layout.
type CreateTemplateRequest struct {
	Name        string                   `json:"name" validate:"required,max=200"`
	SigningMode models.SigningMode       `json:"signing_mode" validate:"required,oneof=sequential parallel"`
	Recipients  []TemplateRecipientInput `json:"recipients" validate:"required,min=1,dive"`
}

// TemplateRecipientInput is one role slot of a template.
type TemplateRecipientInput struct {
	Role         string              `json:"role" validate:"required,max=100"`
	Priority     int                 `json:"priority" validate:"gte=0"`
	DeliveryType models.DeliveryType `json:"delivery_type" validate:"required,oneof=needs_to_sign cc"`
	DefaultUser  *models.User        `json:"default_user,omitempty" validate:"omitempty"`
}

func (r *CreateTemplateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	roles := make(map[string]struct{}, len(r.Recipients))
	priorities := make(map[int]string, len(r.Recipients))
	for _, rcpt := range r.Recipients {
		if _, dup := roles[rcpt.Role]; dup {
			return fmt.Errorf("%w: role %q is defined twice", ErrValidation, rcpt.Role)
		}
		roles[rcpt.Role] = struct{}{}
		// Sequential signing needs a total order.
		if r.SigningMode == models.SigningModeSequential {
			if other, dup := priorities[rcpt.Priority]; dup {
				return fmt.Errorf("%w: roles %q and %q share priority %d in a sequential template", ErrValidation, other, rcpt.Role, rcpt.Priority)
			}
			priorities[rcpt.Priority] = rcpt.Role
		}
	}
	return nil
}

// CreateWorkflowRequest instantiates a template for concrete recipients.
type CreateWorkflowRequest struct {
	TemplateID           string              `json:"template_id" validate:"required"`
	Name                 string              `json:"name" validate:"required,max=200"`
	ValidUntil           time.Time           `json:"valid_until" validate:"required"`
	ReminderIntervalDays int                 `json:"reminder_interval_days" validate:"gte=0,lte=365,required_if=AutoReminder true"`
	AutoReminder         bool                `json:"auto_reminder"`
	Recipients           []RecipientOverride `json:"recipients,omitempty" validate:"dive"`
}

// RecipientOverride replaces the default user of one template role.
type RecipientOverride struct {
	TemplateRecipientID string      `json:"template_recipient_id" validate:"required"`
	User                models.User `json:"user" validate:"required"`
}

func (r *CreateWorkflowRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// UpdateSettingsRequest changes the deadline or reminder settings. Nil fields
// are left unchanged.
type UpdateSettingsRequest struct {
	ValidUntil           *time.Time `json:"valid_until,omitempty"`
	ReminderIntervalDays *int       `json:"reminder_interval_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	AutoReminder         *bool      `json:"auto_reminder,omitempty"`
}

func (r *UpdateSettingsRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	if r.ValidUntil == nil && r.ReminderIntervalDays == nil && r.AutoReminder == nil {
		return fmt.Errorf("%w: no settings to update", ErrValidation)
	}
	return nil
}

// SignRequest submits a recipient's signed artifact.
type SignRequest struct {
	RecipientID string `validate:"required"`
	Token       string `validate:"required"`
	FileName    string `validate:"required"`
	ContentType string
	Content     io.Reader `validate:"-"`
}

func (r *SignRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	if r.Content == nil {
		return fmt.Errorf("%w: signed file is required", ErrValidation)
	}
	return nil
}

// ErrValidation marks request validation failures.
var ErrValidation = errors.New("validation failed")

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
