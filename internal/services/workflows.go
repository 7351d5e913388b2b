package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signflow/backend/internal/lifecycle"
	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// CreateWorkflow instantiates a template as a draft workflow. The workflow,
// its recipients, and one draft envelope per recipient are written atomically.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, owner string, req CreateWorkflowRequest) result.Result[*models.Workflow] {
	log := s.logger.With("owner", owner, "template_id", req.TemplateID)
	if err := req.Validate(); err != nil {
		return failure[*models.Workflow](log, "invalid workflow", err)
	}
	now := s.now()
	validUntil := models.DateOf(req.ValidUntil)
	if validUntil.Before(models.DateOf(now)) {
		return failure[*models.Workflow](log, "invalid workflow", fmt.Errorf("%w: valid_until is in the past", ErrValidation))
	}

	tmpl, err := s.repo.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return failure[*models.Workflow](log, "failed to load template", err)
	}

	known := make(map[string]struct{}, len(tmpl.Recipients))
	for _, tr := range tmpl.Recipients {
		known[tr.ID] = struct{}{}
	}
	overrides := make(map[string]models.User, len(req.Recipients))
	for _, o := range req.Recipients {
		if _, ok := known[o.TemplateRecipientID]; !ok {
			return failure[*models.Workflow](log, "invalid workflow", fmt.Errorf("%w: template recipient %s does not exist", ErrValidation, o.TemplateRecipientID))
		}
		overrides[o.TemplateRecipientID] = o.User
	}
	mode := models.RecipientConfigTemplate
	if len(overrides) > 0 {
		mode = models.RecipientConfigCustom
	}

	wf := &models.Workflow{
		ID:                   uuid.New().String(),
		Name:                 req.Name,
		Owner:                owner,
		TemplateID:           tmpl.ID,
		Status:               models.WorkflowStatusDraft,
		ValidUntil:           validUntil,
		ReminderIntervalDays: req.ReminderIntervalDays,
		AutoReminder:         req.AutoReminder,
		RecipientConfigMode:  mode,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	recipients := make([]*models.WorkflowRecipient, 0, len(tmpl.Recipients))
	for _, tr := range tmpl.Recipients {
		r := &models.WorkflowRecipient{
			ID:                  uuid.New().String(),
			WorkflowID:          wf.ID,
			TemplateRecipientID: tr.ID,
			Role:                tr.Role,
			Priority:            tr.Priority,
			DeliveryType:        tr.DeliveryType,
			DefaultUser:         tr.DefaultUser,
			CreatedAt:           now,
		}
		if u, ok := overrides[tr.ID]; ok {
			r.CustomUser = &u
		}
		if r.Identity() == nil {
			return failure[*models.Workflow](log, "invalid workflow", fmt.Errorf("%w: role %q has no user", ErrValidation, tr.Role))
		}
		recipients = append(recipients, r)
	}

	err = repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		if err := tx.CreateWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		for _, r := range recipients {
			if err := tx.CreateRecipient(ctx, r); err != nil {
				return fmt.Errorf("create recipient %s: %w", r.Role, err)
			}
			env := &models.WorkflowEnvelope{
				ID:          uuid.New().String(),
				WorkflowID:  wf.ID,
				RecipientID: r.ID,
				Status:      models.EnvelopeStatusDraft,
				UpdatedAt:   now,
			}
			if err := tx.CreateEnvelope(ctx, env); err != nil {
				return fmt.Errorf("create envelope for %s: %w", r.Role, err)
			}
		}
		return nil
	})
	if err != nil {
		return failure[*models.Workflow](log, "failed to create workflow", err)
	}

	log.Info("workflow created", "workflow_id", wf.ID, "recipients", len(recipients))
	return result.Ok("workflow created", wf)
}

// ListWorkflows returns the owner's workflows with their effective status.
func (s *WorkflowService) ListWorkflows(ctx context.Context, owner string) result.Result[[]*models.Workflow] {
	workflows, err := s.repo.ListWorkflowsByOwner(ctx, owner)
	if err != nil {
		return failure[[]*models.Workflow](s.logger, "failed to list workflows", err, "owner", owner)
	}
	now := s.now()
	for _, wf := range workflows {
		wf.Status = wf.EffectiveStatus(now)
	}
	return result.Ok(fmt.Sprintf("%d workflows", len(workflows)), workflows)
}

// StartWorkflow moves a draft workflow to in progress, queues the first
// dispatch pass, and schedules reminders.
func (s *WorkflowService) StartWorkflow(ctx context.Context, workflowID string) result.Result[*models.Workflow] {
	log := s.logger.With("workflow_id", workflowID)
	now := s.now()

	var wf *models.Workflow
	err := repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		var err error
		wf, err = tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		from := wf.Status
		if err := lifecycle.Fire(ctx, wf, lifecycle.Start); err != nil {
			return err
		}
		if !wf.IsValidOn(now) {
			return fmt.Errorf("%w: validity deadline %s has passed", errExpired, wf.ValidUntil.Format("2006-01-02"))
		}
		envelopes, err := tx.ListEnvelopes(ctx, workflowID)
		if err != nil {
			return err
		}
		if len(envelopes) == 0 {
			return fmt.Errorf("%w: workflow has no recipients", ErrValidation)
		}
		wf.UpdatedAt = now
		return saveWorkflow(ctx, tx, wf, from)
	})
	if err != nil {
		return failure[*models.Workflow](log, "failed to start workflow", err)
	}

	// Reminders go first so a pass that completes the workflow inline can
	// cancel them.
	s.scheduleReminders(wf)
	s.triggerDispatch(ctx, workflowID)

	log.Info("workflow started")
	return result.Ok("workflow started", wf)
}

// CancelWorkflow stops a workflow that has not completed and cancels its reminders.
func (s *WorkflowService) CancelWorkflow(ctx context.Context, workflowID, reason string) result.Result[*models.Workflow] {
	log := s.logger.With("workflow_id", workflowID)
	now := s.now()

	var wf *models.Workflow
	err := repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		var err error
		wf, err = tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		from := wf.Status
		if err := lifecycle.Fire(ctx, wf, lifecycle.Cancel); err != nil {
			return err
		}
		if reason != "" {
			wf.CancelReason = &reason
		}
		wf.UpdatedAt = now
		return saveWorkflow(ctx, tx, wf, from)
	})
	if err != nil {
		return failure[*models.Workflow](log, "failed to cancel workflow", err)
	}

	s.reminders.Cancel(workflowID)
	log.Info("workflow cancelled", "reason", reason)
	return result.Ok("workflow cancelled", wf)
}

// DeleteWorkflow removes a draft, completed, or cancelled workflow, all of its
// rows, and its stored files. Running and expired workflows cannot be deleted.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, workflowID string) result.Result[result.Empty] {
	log := s.logger.With("workflow_id", workflowID)

	err := repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := lifecycle.Fire(ctx, wf, lifecycle.Delete); err != nil {
			return err
		}
		return tx.DeleteWorkflow(ctx, workflowID)
	})
	if err != nil {
		return failure[result.Empty](log, "failed to delete workflow", err)
	}

	s.reminders.Cancel(workflowID)
	if s.files != nil {
		if err := s.files.RemoveAll(workflowID); err != nil {
			log.Warn("stored files not removed", "error", err)
		}
	}
	log.Info("workflow deleted")
	return result.Ok("workflow deleted", result.Empty{})
}

// UpdateWorkflowSettings edits the deadline and reminder settings of a draft or
// running workflow. Reminders of a running workflow are cancelled and
// rescheduled from the new settings.
func (s *WorkflowService) UpdateWorkflowSettings(ctx context.Context, workflowID string, req UpdateSettingsRequest) result.Result[*models.Workflow] {
	log := s.logger.With("workflow_id", workflowID)
	if err := req.Validate(); err != nil {
		return failure[*models.Workflow](log, "invalid settings", err)
	}
	now := s.now()

	var wf *models.Workflow
	err := repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		var err error
		wf, err = tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status != models.WorkflowStatusDraft && wf.Status != models.WorkflowStatusInProgress {
			return fmt.Errorf("%w: settings of a %s workflow are fixed", ErrInvalidTransition, wf.Status)
		}
		if req.ValidUntil != nil {
			d := models.DateOf(*req.ValidUntil)
			if d.Before(models.DateOf(now)) {
				return fmt.Errorf("%w: valid_until is in the past", ErrValidation)
			}
			wf.ValidUntil = d
		}
		if req.ReminderIntervalDays != nil {
			wf.ReminderIntervalDays = *req.ReminderIntervalDays
		}
		if req.AutoReminder != nil {
			wf.AutoReminder = *req.AutoReminder
		}
		if wf.AutoReminder && wf.ReminderIntervalDays < 1 {
			return fmt.Errorf("%w: auto reminders need an interval of at least one day", ErrValidation)
		}
		wf.UpdatedAt = now
		return saveWorkflow(ctx, tx, wf, wf.Status)
	})
	if err != nil {
		return failure[*models.Workflow](log, "failed to update settings", err)
	}

	if wf.Status == models.WorkflowStatusInProgress {
		s.reminders.Cancel(workflowID)
		s.scheduleReminders(wf)
	}
	log.Info("workflow settings updated")
	return result.Ok("settings updated", wf)
}

// saveWorkflow persists wf when its stored status is still from.
func saveWorkflow(ctx context.Context, tx repository.Store, wf *models.Workflow, from models.WorkflowStatus) error {
	changed, err := tx.UpdateWorkflow(ctx, wf, from)
	if err != nil {
		return err
	}
	if !changed {
		return errStaleWorkflow
	}
	return nil
}

// getWorkflow loads a workflow, translating a missing row into a not-found result.
func (s *WorkflowService) getWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return wf, err
}
