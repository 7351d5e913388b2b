package services

import (
	"context"

	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// GetWorkflowProgress returns a read-only snapshot of a workflow: its
// effective status, each recipient's envelope, and the signed document versions.
func (s *WorkflowService) GetWorkflowProgress(ctx context.Context, workflowID string) result.Result[*models.WorkflowProgress] {
	log := s.logger.With("workflow_id", workflowID)

	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return failure[*models.WorkflowProgress](log, "failed to load workflow", err)
	}
	tmpl, err := s.repo.GetTemplate(ctx, wf.TemplateID)
	if err != nil {
		return failure[*models.WorkflowProgress](log, "failed to load template", err)
	}
	recipients, err := s.repo.ListRecipients(ctx, workflowID)
	if err != nil {
		return failure[*models.WorkflowProgress](log, "failed to load recipients", err)
	}
	envelopes, err := s.repo.ListEnvelopes(ctx, workflowID)
	if err != nil {
		return failure[*models.WorkflowProgress](log, "failed to load envelopes", err)
	}
	byRecipient := make(map[string]*models.WorkflowEnvelope, len(envelopes))
	for _, env := range envelopes {
		byRecipient[env.RecipientID] = env
	}

	progress := &models.WorkflowProgress{
		Workflow:        wf,
		EffectiveStatus: wf.EffectiveStatus(s.now()),
		SigningMode:     tmpl.SigningMode,
		Recipients:      make([]models.RecipientProgress, 0, len(recipients)),
		Total:           len(recipients),
	}
	for _, r := range recipients {
		row := models.RecipientProgress{
			RecipientID:  r.ID,
			Role:         r.Role,
			Priority:     r.Priority,
			DeliveryType: r.DeliveryType,
		}
		if u := r.Identity(); u != nil {
			row.Email, row.Name = u.Email, u.Name
		}
		if env, ok := byRecipient[r.ID]; ok {
			row.EnvelopeID = env.ID
			row.EnvelopeStatus = env.Status
			row.SentAt = env.SentAt
			row.CompletedAt = env.CompletedAt
			if env.Status == models.EnvelopeStatusCompleted {
				progress.Completed++
			}
		}
		progress.Recipients = append(progress.Recipients, row)
	}

	docs, err := s.repo.ListSignedDocuments(ctx, workflowID)
	if err != nil {
		return failure[*models.WorkflowProgress](log, "failed to load documents", err)
	}
	for _, d := range docs {
		versions, err := s.repo.ListDocumentVersions(ctx, d.ID)
		if err != nil {
			return failure[*models.WorkflowProgress](log, "failed to load document versions", err, "document_id", d.ID)
		}
		progress.Documents = append(progress.Documents, models.DocumentProgress{Document: d, Versions: versions})
	}

	return result.Ok("workflow progress", progress)
}
