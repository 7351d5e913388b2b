package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signflow/backend/internal/documents"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// SigningReceipt describes a recorded signature.
type SigningReceipt struct {
	WorkflowID        string `json:"workflow_id"`
	RecipientID       string `json:"recipient_id"`
	EnvelopeID        string `json:"envelope_id"`
	DocumentID        string `json:"document_id"`
	Version           int    `json:"version"`
	WorkflowCompleted bool   `json:"workflow_completed"`
}

var errAlreadySigned = errors.New("signature already recorded")

const alreadySignedMessage = "signature already recorded for this recipient"

// CompleteDocumentSigning records a recipient's signed artifact.
//
// A second submission for a completed envelope is an informational no-op. A
// submission after the workflow deadline marks the envelope expired and fails.
// The signature, document version, envelope completion, and token consumption
// commit together; the next dispatch pass is queued after commit.
func (s *WorkflowService) CompleteDocumentSigning(ctx context.Context, req SignRequest) result.Result[*SigningReceipt] {
	log := s.logger.With("recipient_id", req.RecipientID)
	if err := req.Validate(); err != nil {
		return failure[*SigningReceipt](log, "invalid signing request", err)
	}
	now := s.now()

	rcpt, err := s.repo.GetRecipient(ctx, req.RecipientID)
	if errors.Is(err, repository.ErrNotFound) {
		return failure[*SigningReceipt](log, "invalid recipient", fmt.Errorf("%w: recipient %s does not exist", ErrValidation, req.RecipientID))
	}
	if err != nil {
		return failure[*SigningReceipt](log, "failed to load recipient", err)
	}
	log = log.With("workflow_id", rcpt.WorkflowID)

	env, err := s.repo.GetEnvelopeByRecipient(ctx, rcpt.ID)
	if err != nil {
		return failure[*SigningReceipt](log, "failed to load envelope", err)
	}
	log = log.With("envelope_id", env.ID)
	if env.Status == models.EnvelopeStatusCompleted {
		log.Info("duplicate signing submission ignored")
		return result.Info[*SigningReceipt](alreadySignedMessage)
	}

	wf, err := s.repo.GetWorkflow(ctx, rcpt.WorkflowID)
	if err != nil {
		return failure[*SigningReceipt](log, "failed to load workflow", err)
	}
	switch wf.Status {
	case models.WorkflowStatusInProgress:
	case models.WorkflowStatusExpired:
		return s.expireEnvelope(ctx, log, env)
	default:
		return failure[*SigningReceipt](log, "workflow is not accepting signatures",
			fmt.Errorf("%w: workflow is %s", ErrInvalidTransition, wf.Status))
	}
	if !wf.IsValidOn(now) {
		return s.expireEnvelope(ctx, log, env)
	}

	token, err := s.tokens.GetValidToken(ctx, s.repo, req.Token)
	if err == nil && token.RecipientID != rcpt.ID {
		err = fmt.Errorf("%w: token belongs to another recipient", ErrValidation)
	}
	if err != nil {
		return failure[*SigningReceipt](log, "invalid signing token", err)
	}

	switch env.Status {
	case models.EnvelopeStatusInProgress, models.EnvelopeStatusFailed:
	case models.EnvelopeStatusDraft:
		return failure[*SigningReceipt](log, "recipient cannot sign yet",
			fmt.Errorf("%w: recipient has not been invited", ErrInvalidTransition))
	default:
		return failure[*SigningReceipt](log, "recipient cannot sign",
			fmt.Errorf("%w: envelope is %s", ErrInvalidTransition, env.Status))
	}

	tmpl, err := s.repo.GetTemplate(ctx, wf.TemplateID)
	if err != nil {
		return failure[*SigningReceipt](log, "failed to load template", err)
	}

	file, err := s.files.Save(ctx, wf.ID, req.FileName, req.ContentType, req.Content)
	if errors.Is(err, documents.ErrEmptyFile) {
		return failure[*SigningReceipt](log, "invalid signed file", fmt.Errorf("%w: %v", ErrValidation, err))
	}
	if err != nil {
		return failure[*SigningReceipt](log, "failed to store signed file", err)
	}

	var recorded *documents.Recorded
	err = repository.InTx(ctx, s.repo, func(tx repository.Store) error {
		var err error
		recorded, err = s.documents.Record(ctx, tx, tmpl.SigningMode, wf.ID, rcpt.ID, file)
		if err != nil {
			return err
		}
		sig := &models.WorkflowRecipientSignature{
			ID:                uuid.New().String(),
			RecipientID:       rcpt.ID,
			SignedDocumentID:  recorded.Document.ID,
			DocumentVersionID: recorded.Version.ID,
			Signed:            true,
			SignedAt:          now,
		}
		if err := tx.CreateSignature(ctx, sig); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return errAlreadySigned
			}
			return fmt.Errorf("create signature: %w", err)
		}
		ok, err := tx.TransitionEnvelope(ctx, env.ID,
			[]models.EnvelopeStatus{models.EnvelopeStatusInProgress, models.EnvelopeStatusFailed},
			models.EnvelopeStatusCompleted, now)
		if err != nil {
			return fmt.Errorf("complete envelope: %w", err)
		}
		if !ok {
			return errAlreadySigned
		}
		return s.tokens.MarkUsed(ctx, tx, token.ID)
	})
	if err != nil {
		if derr := s.files.Delete(file.Path); derr != nil {
			log.Error("failed to remove orphaned file", "path", file.Path, "error", derr)
		}
		if errors.Is(err, errAlreadySigned) {
			log.Info("concurrent signing submission ignored")
			return result.Info[*SigningReceipt](alreadySignedMessage)
		}
		return failure[*SigningReceipt](log, "failed to record signature", err)
	}

	receipt := &SigningReceipt{
		WorkflowID:  wf.ID,
		RecipientID: rcpt.ID,
		EnvelopeID:  env.ID,
		DocumentID:  recorded.Document.ID,
		Version:     recorded.Version.Version,
	}
	completed, err := s.engine.FinalizeIfComplete(ctx, wf.ID)
	if err != nil {
		log.Error("completion check failed", "error", err)
	}
	receipt.WorkflowCompleted = completed
	if !completed {
		s.triggerDispatch(ctx, wf.ID)
	}

	log.Info("signature recorded", "document_id", receipt.DocumentID, "version", receipt.Version, "workflow_completed", completed)
	return result.Ok("signature recorded", receipt)
}

// expireEnvelope marks an open envelope expired and rejects the signing attempt.
func (s *WorkflowService) expireEnvelope(ctx context.Context, log *logging.Logger, env *models.WorkflowEnvelope) result.Result[*SigningReceipt] {
	open := []models.EnvelopeStatus{models.EnvelopeStatusDraft, models.EnvelopeStatusInProgress, models.EnvelopeStatusFailed}
	if _, err := s.repo.TransitionEnvelope(ctx, env.ID, open, models.EnvelopeStatusExpired, s.now()); err != nil {
		log.Error("failed to expire envelope", "error", err)
	}
	log.Info("signing rejected, workflow is no longer valid")
	return result.Err[*SigningReceipt](result.KindExpired, "this workflow is no longer valid")
}
