package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// CreateTemplate stores a template owned by owner.
func (s *WorkflowService) CreateTemplate(ctx context.Context, owner string, req CreateTemplateRequest) result.Result[*models.Template] {
	log := s.logger.With("owner", owner)
	if err := req.Validate(); err != nil {
		return failure[*models.Template](log, "invalid template", err)
	}

	tmpl := &models.Template{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Owner:       owner,
		SigningMode: req.SigningMode,
		CreatedAt:   s.now(),
	}
	for _, r := range req.Recipients {
		tmpl.Recipients = append(tmpl.Recipients, models.TemplateRecipient{
			ID:           uuid.New().String(),
			TemplateID:   tmpl.ID,
			Role:         r.Role,
			Priority:     r.Priority,
			DeliveryType: r.DeliveryType,
			DefaultUser:  r.DefaultUser,
		})
	}

	if err := s.repo.CreateTemplate(ctx, tmpl); err != nil {
		return failure[*models.Template](log, "failed to create template", err)
	}
	log.Info("template created", "template_id", tmpl.ID, "signing_mode", tmpl.SigningMode)
	return result.Ok("template created", tmpl)
}

// GetTemplate returns a template with its recipient slots.
func (s *WorkflowService) GetTemplate(ctx context.Context, id string) result.Result[*models.Template] {
	tmpl, err := s.repo.GetTemplate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return result.Err[*models.Template](result.KindNotFound, "template not found")
	}
	if err != nil {
		return failure[*models.Template](s.logger, "failed to load template", err, "template_id", id)
	}
	return result.Ok("template found", tmpl)
}
