package services

import (
	"context"
	"errors"
	"fmt"

	"signflow/backend/internal/dispatch"
	"signflow/backend/internal/lifecycle"
	"signflow/backend/internal/queue"
	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// RunDispatch performs one dispatch pass. It is the queue entry point for
// dispatch tasks.
func (s *WorkflowService) RunDispatch(ctx context.Context, workflowID string) result.Result[*dispatch.Report] {
	report, err := s.engine.Run(ctx, workflowID)
	if err != nil {
		return failure[*dispatch.Report](s.logger.With("workflow_id", workflowID), "dispatch pass failed", err)
	}
	return result.Ok("dispatch pass finished", report)
}

// ExpireOverdueWorkflows marks running workflows past their deadline as
// expired, expires their open envelopes, and cancels their reminders.
func (s *WorkflowService) ExpireOverdueWorkflows(ctx context.Context) result.Result[[]string] {
	now := s.now()
	running, err := s.repo.ListWorkflowsByStatus(ctx, models.WorkflowStatusInProgress)
	if err != nil {
		return failure[[]string](s.logger, "failed to list running workflows", err)
	}

	expired := []string{}
	var failed int
	for _, candidate := range running {
		if candidate.IsValidOn(now) {
			continue
		}
		log := s.logger.With("workflow_id", candidate.ID)
		err := repository.InTx(ctx, s.repo, func(tx repository.Store) error {
			wf, err := tx.LockWorkflow(ctx, candidate.ID)
			if err != nil {
				return err
			}
			from := wf.Status
			if err := lifecycle.Fire(ctx, wf, lifecycle.Expire); err != nil {
				return err
			}
			wf.UpdatedAt = now
			if err := saveWorkflow(ctx, tx, wf, from); err != nil {
				return err
			}
			envelopes, err := tx.ListEnvelopes(ctx, wf.ID)
			if err != nil {
				return err
			}
			open := []models.EnvelopeStatus{models.EnvelopeStatusDraft, models.EnvelopeStatusInProgress, models.EnvelopeStatusFailed}
			for _, env := range envelopes {
				if _, err := tx.TransitionEnvelope(ctx, env.ID, open, models.EnvelopeStatusExpired, now); err != nil {
					return fmt.Errorf("expire envelope %s: %w", env.ID, err)
				}
			}
			return nil
		})
		if errors.Is(err, ErrInvalidTransition) {
			// finished or cancelled since it was listed
			continue
		}
		if err != nil {
			failed++
			log.Error("failed to expire workflow", "error", err)
			continue
		}
		s.reminders.Cancel(candidate.ID)
		log.Info("workflow expired")
		expired = append(expired, candidate.ID)
	}

	if failed > 0 {
		return result.Result[[]string]{
			Status:  result.StatusError,
			Kind:    result.KindTransactional,
			Message: fmt.Sprintf("%d workflows could not be expired", failed),
			Data:    expired,
		}
	}
	return result.Ok(fmt.Sprintf("%d workflows expired", len(expired)), expired)
}

// HandleTask runs a queued task.
func (s *WorkflowService) HandleTask(ctx context.Context, task queue.Task) error {
	var (
		status  result.Status
		message string
	)
	switch task.Kind {
	case queue.KindDispatch:
		res := s.RunDispatch(ctx, task.WorkflowID)
		status, message = res.Status, res.Message
	case queue.KindRemind:
		res := s.RemindWorkflow(ctx, task.WorkflowID)
		status, message = res.Status, res.Message
	case queue.KindExpirySweep:
		res := s.ExpireOverdueWorkflows(ctx)
		status, message = res.Status, res.Message
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if status == result.StatusError {
		return fmt.Errorf("%s: %s", task, message)
	}
	return nil
}
