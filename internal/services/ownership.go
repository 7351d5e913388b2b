package services

import (
	"context"
	"fmt"

	"signflow/backend/pkg/result"
)

// Resource names an owner-scoped entity addressed by id.
type Resource string

const (
	ResourceWorkflow  Resource = "workflow"
	ResourceRecipient Resource = "recipient"
	ResourceEnvelope  Resource = "envelope"
)

// Authorize reports not_found unless owner owns the workflow the resource
// belongs to, so a foreign workflow looks exactly like a missing one.
func (s *WorkflowService) Authorize(ctx context.Context, owner string, kind Resource, id string) result.Result[result.Empty] {
	log := s.logger.With("owner", owner, "resource", kind, "id", id)

	workflowID := id
	switch kind {
	case ResourceWorkflow:
	case ResourceRecipient:
		rcpt, err := s.repo.GetRecipient(ctx, id)
		if err != nil {
			return failure[result.Empty](log, "failed to load recipient", err)
		}
		workflowID = rcpt.WorkflowID
	case ResourceEnvelope:
		env, err := s.repo.GetEnvelope(ctx, id)
		if err != nil {
			return failure[result.Empty](log, "failed to load envelope", err)
		}
		workflowID = env.WorkflowID
	default:
		return failure[result.Empty](log, "unknown resource", fmt.Errorf("%w: unknown resource %q", ErrValidation, kind))
	}

	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return failure[result.Empty](log, "failed to load workflow", err)
	}
	if owner == "" || wf.Owner != owner {
		log.Warn("access to a foreign workflow denied", "workflow_id", wf.ID)
		return result.Err[result.Empty](result.KindNotFound, fmt.Sprintf("%s %s: not found", kind, id))
	}
	return result.Ok("authorized", result.Empty{})
}
