// Package lifecycle holds the workflow state machine shared by the service
// layer and the dispatch engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"signflow/backend/pkg/models"
)

// ErrInvalidTransition is returned when a lifecycle trigger is not permitted
// from the workflow's current status.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// Trigger names a workflow lifecycle event.
type Trigger string

const (
	Start    Trigger = "start"
	Cancel   Trigger = "cancel"
	Delete   Trigger = "delete"
	Complete Trigger = "complete"
	Expire   Trigger = "expire"
)

// StatusDeleted is the terminal pseudo-state a deleted workflow passes through.
// It is never persisted.
const StatusDeleted models.WorkflowStatus = "deleted"

// machine returns a state machine whose state is the workflow's Status field.
// Firing a trigger mutates the workflow in memory; callers persist it.
func machine(w *models.Workflow) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) { return w.Status, nil },
		func(_ context.Context, s stateless.State) error {
			w.Status = s.(models.WorkflowStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(models.WorkflowStatusDraft).
		Permit(Start, models.WorkflowStatusInProgress).
		Permit(Cancel, models.WorkflowStatusCancelled).
		Permit(Delete, StatusDeleted)

	sm.Configure(models.WorkflowStatusInProgress).
		Permit(Cancel, models.WorkflowStatusCancelled).
		Permit(Complete, models.WorkflowStatusCompleted).
		Permit(Expire, models.WorkflowStatusExpired)

	sm.Configure(models.WorkflowStatusExpired).
		Permit(Cancel, models.WorkflowStatusCancelled)

	sm.Configure(models.WorkflowStatusCompleted).
		Permit(Delete, StatusDeleted)

	sm.Configure(models.WorkflowStatusCancelled).
		Permit(Delete, StatusDeleted)

	sm.Configure(StatusDeleted)

	return sm
}

// Fire applies t to the workflow or reports ErrInvalidTransition.
func Fire(ctx context.Context, w *models.Workflow, t Trigger) error {
	from := w.Status
	sm := machine(w)
	ok, err := sm.CanFireCtx(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: cannot %s a %s workflow", ErrInvalidTransition, t, from)
	}
	return sm.FireCtx(ctx, t)
}
