// Package services implements the signing workflow lifecycle: every operation
// exposed to the API and MCP surfaces lives on WorkflowService.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signflow/backend/internal/dispatch"
	"signflow/backend/internal/documents"
	"signflow/backend/internal/lifecycle"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/queue"
	"signflow/backend/internal/repository"
	"signflow/backend/internal/tokens"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

// Enqueuer accepts background tasks.
type Enqueuer interface {
	Enqueue(task queue.Task) error
}

// Reminders schedules and cancels a workflow's recurring reminders.
type Reminders interface {
	Schedule(workflowID string, intervalDays, repeatCount int) error
	Cancel(workflowID string)
	Exists(workflowID string) bool
}

// Deps are the collaborators of a WorkflowService.
type Deps struct {
	Repo      repository.Repository
	Tokens    *tokens.Manager
	Documents *documents.Coordinator
	Files     *documents.FileStore
	Engine    *dispatch.Engine
	Reminders Reminders
	Queue     Enqueuer
	Now       func() time.Time
	Logger    *logging.Logger
}

// WorkflowService coordinates templates, workflows, dispatch, and signing.
// Methods never return Go errors; failures are reported in the Result.
type WorkflowService struct {
	repo      repository.Repository
	tokens    *tokens.Manager
	documents *documents.Coordinator
	files     *documents.FileStore
	engine    *dispatch.Engine
	reminders Reminders
	queue     Enqueuer
	now       func() time.Time
	logger    *logging.Logger
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(d Deps) *WorkflowService {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &WorkflowService{
		repo:      d.Repo,
		tokens:    d.Tokens,
		documents: d.Documents,
		files:     d.Files,
		engine:    d.Engine,
		reminders: d.Reminders,
		queue:     d.Queue,
		now:       now,
		logger:    d.Logger.With("component", "workflow_service"),
	}
}

// triggerDispatch queues a dispatch pass, running it inline if the queue
// refuses the task.
func (s *WorkflowService) triggerDispatch(ctx context.Context, workflowID string) {
	err := s.queue.Enqueue(queue.Task{Kind: queue.KindDispatch, WorkflowID: workflowID})
	if err == nil {
		return
	}
	s.logger.Warn("dispatch not queued, running inline", "workflow_id", workflowID, "error", err)
	if _, err := s.engine.Run(context.WithoutCancel(ctx), workflowID); err != nil {
		s.logger.Error("inline dispatch failed", "workflow_id", workflowID, "error", err)
	}
}

// scheduleReminders applies the reminder policy: reminders run only when
// enabled and more than one day of validity remains, repeating once for each
// remaining day after the first.
func (s *WorkflowService) scheduleReminders(wf *models.Workflow) {
	if !wf.AutoReminder || wf.ReminderIntervalDays < 1 {
		return
	}
	remaining := wf.RemainingDays(s.now())
	if remaining <= 1 {
		return
	}
	if err := s.reminders.Schedule(wf.ID, wf.ReminderIntervalDays, remaining-1); err != nil {
		s.logger.Error("schedule reminders", "workflow_id", wf.ID, "error", err)
	}
}

// kindOf maps a domain error to a result kind.
func kindOf(err error) result.Kind {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, tokens.ErrTokenNotFound), errors.Is(err, tokens.ErrInvalidRecipient):
		return result.KindValidation
	case errors.Is(err, repository.ErrNotFound):
		return result.KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, repository.ErrConflict):
		return result.KindConflict
	case errors.Is(err, errExpired):
		return result.KindExpired
	default:
		return result.KindTransactional
	}
}

// failure logs err with its context and converts it to an error result.
func failure[T any](log *logging.Logger, msg string, err error, args ...any) result.Result[T] {
	kind := kindOf(err)
	log.Error(msg, append(args, "kind", kind, "error", err)...)
	switch kind {
	case result.KindTransactional:
		return result.Err[T](kind, msg)
	default:
		return result.Err[T](kind, msg+": "+err.Error())
	}
}

var errExpired = errors.New("workflow is no longer valid")

// ErrInvalidTransition is returned when an operation is not permitted in the
// workflow's or envelope's current status.
var ErrInvalidTransition = lifecycle.ErrInvalidTransition

// errStaleWorkflow reports a workflow whose status changed between read and write.
var errStaleWorkflow = fmt.Errorf("%w: workflow changed concurrently", ErrInvalidTransition)
