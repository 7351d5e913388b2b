package services

import (
	"context"
	"fmt"

	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// ReminderReport lists the recipients a workflow reminder reached.
type ReminderReport struct {
	Reminded []string `json:"reminded"`
	Failed   []string `json:"failed,omitempty"`
}

// RemindRecipient sends a reminder to one recipient whose invitation is outstanding.
func (s *WorkflowService) RemindRecipient(ctx context.Context, recipientID string) result.Result[result.Empty] {
	log := s.logger.With("recipient_id", recipientID)

	rcpt, err := s.repo.GetRecipient(ctx, recipientID)
	if err != nil {
		return failure[result.Empty](log, "failed to load recipient", err)
	}
	log = log.With("workflow_id", rcpt.WorkflowID)
	wf, err := s.repo.GetWorkflow(ctx, rcpt.WorkflowID)
	if err != nil {
		return failure[result.Empty](log, "failed to load workflow", err)
	}
	if status := wf.EffectiveStatus(s.now()); status != models.WorkflowStatusInProgress {
		return failure[result.Empty](log, "cannot remind recipient", fmt.Errorf("%w: workflow is %s", ErrInvalidTransition, status))
	}
	env, err := s.repo.GetEnvelopeByRecipient(ctx, rcpt.ID)
	if err != nil {
		return failure[result.Empty](log, "failed to load envelope", err)
	}
	if env.Status != models.EnvelopeStatusInProgress {
		return result.Info[result.Empty](fmt.Sprintf("nothing to remind, envelope is %s", env.Status))
	}

	if err := s.engine.Remind(ctx, wf, rcpt); err != nil {
		log.Error("reminder failed", "error", err)
		return result.Err[result.Empty](result.KindDispatch, "failed to send reminder: "+err.Error())
	}
	log.Info("reminder sent")
	return result.Ok("reminder sent", result.Empty{})
}

// RemindWorkflow reminds every signer whose invitation is outstanding. It is
// also the scheduled reminder job: once the workflow stops running, its
// reminders are cancelled.
func (s *WorkflowService) RemindWorkflow(ctx context.Context, workflowID string) result.Result[*ReminderReport] {
	log := s.logger.With("workflow_id", workflowID)

	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return failure[*ReminderReport](log, "failed to load workflow", err)
	}
	if status := wf.EffectiveStatus(s.now()); status != models.WorkflowStatusInProgress {
		s.reminders.Cancel(workflowID)
		return result.Info[*ReminderReport](fmt.Sprintf("workflow is %s, reminders stopped", status))
	}

	pending, err := s.pendingSigners(ctx, workflowID)
	if err != nil {
		return failure[*ReminderReport](log, "failed to load recipients", err)
	}
	report := &ReminderReport{Reminded: []string{}}
	for _, rcpt := range pending {
		if err := s.engine.Remind(ctx, wf, rcpt); err != nil {
			log.Error("reminder failed", "recipient_id", rcpt.ID, "error", err)
			report.Failed = append(report.Failed, rcpt.ID)
			continue
		}
		report.Reminded = append(report.Reminded, rcpt.ID)
	}
	if len(report.Reminded) == 0 && len(report.Failed) == 0 {
		return result.Info[*ReminderReport]("no outstanding invitations")
	}
	log.Info("workflow reminders sent", "reminded", len(report.Reminded), "failed", len(report.Failed))
	if len(report.Reminded) == 0 {
		return result.Result[*ReminderReport]{Status: result.StatusError, Kind: result.KindDispatch, Message: "no reminder could be delivered", Data: report}
	}
	return result.Ok("reminders sent", report)
}

// ResendEnvelope redelivers the invitation of an in-progress or failed envelope.
func (s *WorkflowService) ResendEnvelope(ctx context.Context, envelopeID string) result.Result[*models.WorkflowEnvelope] {
	log := s.logger.With("envelope_id", envelopeID)

	env, err := s.repo.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return failure[*models.WorkflowEnvelope](log, "failed to load envelope", err)
	}
	log = log.With("workflow_id", env.WorkflowID, "recipient_id", env.RecipientID)

	switch env.Status {
	case models.EnvelopeStatusInProgress, models.EnvelopeStatusFailed:
	case models.EnvelopeStatusCompleted:
		return result.Info[*models.WorkflowEnvelope]("envelope already completed")
	default:
		return failure[*models.WorkflowEnvelope](log, "cannot resend envelope", fmt.Errorf("%w: envelope is %s", ErrInvalidTransition, env.Status))
	}

	wf, err := s.repo.GetWorkflow(ctx, env.WorkflowID)
	if err != nil {
		return failure[*models.WorkflowEnvelope](log, "failed to load workflow", err)
	}
	if status := wf.EffectiveStatus(s.now()); status != models.WorkflowStatusInProgress {
		return failure[*models.WorkflowEnvelope](log, "cannot resend envelope", fmt.Errorf("%w: workflow is %s", ErrInvalidTransition, status))
	}
	rcpt, err := s.repo.GetRecipient(ctx, env.RecipientID)
	if err != nil {
		return failure[*models.WorkflowEnvelope](log, "failed to load recipient", err)
	}

	if err := s.engine.Resend(ctx, wf, rcpt, env); err != nil {
		log.Error("resend failed", "error", err)
		return result.Err[*models.WorkflowEnvelope](result.KindDispatch, "failed to resend invitation: "+err.Error())
	}
	env, err = s.repo.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return failure[*models.WorkflowEnvelope](log, "failed to reload envelope", err)
	}
	log.Info("invitation resent")
	return result.Ok("invitation resent", env)
}

// pendingSigners returns signers whose envelopes are in progress, by priority.
func (s *WorkflowService) pendingSigners(ctx context.Context, workflowID string) ([]*models.WorkflowRecipient, error) {
	recipients, err := s.repo.ListRecipients(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	envelopes, err := s.repo.ListEnvelopes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	status := make(map[string]models.EnvelopeStatus, len(envelopes))
	for _, env := range envelopes {
		status[env.RecipientID] = env.Status
	}
	var out []*models.WorkflowRecipient
	for _, r := range recipients {
		if r.DeliveryType.RequiresSignature() && status[r.ID] == models.EnvelopeStatusInProgress {
			out = append(out, r)
		}
	}
	return out, nil
}
