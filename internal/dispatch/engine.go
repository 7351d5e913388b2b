// Package dispatch walks a workflow's pending envelopes and sends signing
// invitations in role-priority order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"signflow/backend/internal/lifecycle"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/notify"
	"signflow/backend/internal/repository"
	"signflow/backend/internal/tokens"
	"signflow/backend/pkg/models"
)

// ErrNoIdentity is returned when a recipient has neither a default nor a custom user.
var ErrNoIdentity = errors.New("recipient has no resolvable identity")

// ReminderCanceller removes scheduled reminders for a workflow.
type ReminderCanceller interface {
	Cancel(workflowID string)
}

// Config controls link construction and token lifetime.
type Config struct {
	LinkBaseURL string
	TokenTTL    time.Duration
}

// Report summarises one dispatch pass.
type Report struct {
	Dispatched []string `json:"dispatched,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
	Completed  bool     `json:"completed"`
}

// Engine dispatches invitations. Envelope status transitions are conditional,
// so concurrent passes over the same workflow never send twice to a recipient.
type Engine struct {
	repo      repository.Repository
	tokens    *tokens.Manager
	notifier  notify.Notifier
	reminders ReminderCanceller
	cfg       Config
	now       func() time.Time
	logger    *logging.Logger

	sent      metric.Int64Counter
	failed    metric.Int64Counter
	reminded  metric.Int64Counter
	completed metric.Int64Counter
}

// NewEngine creates an Engine. Metrics go to the global meter provider.
func NewEngine(repo repository.Repository, tm *tokens.Manager, notifier notify.Notifier, reminders ReminderCanceller, cfg Config, now func() time.Time, logger *logging.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = tokens.DefaultTTL
	}
	meter := otel.Meter("signflow/dispatch")
	e := &Engine{
		repo:      repo,
		tokens:    tm,
		notifier:  notifier,
		reminders: reminders,
		cfg:       cfg,
		now:       now,
		logger:    logger.With("component", "dispatch"),
	}
	// Counter creation only fails for invalid instrument names.
	e.sent, _ = meter.Int64Counter("signflow.invitations.sent", metric.WithDescription("Signing invitations delivered"))
	e.failed, _ = meter.Int64Counter("signflow.invitations.failed", metric.WithDescription("Signing invitations that could not be delivered"))
	e.reminded, _ = meter.Int64Counter("signflow.reminders.sent", metric.WithDescription("Reminder notifications delivered"))
	e.completed, _ = meter.Int64Counter("signflow.workflows.completed", metric.WithDescription("Workflows completed by the last signature"))
	return e
}

// SigningLink builds the URL a recipient follows to sign.
func (e *Engine) SigningLink(recipientID, token string) string {
	return fmt.Sprintf("%s/%s?token=%s", e.cfg.LinkBaseURL, url.PathEscape(recipientID), url.QueryEscape(token))
}

// Run performs one dispatch pass over the workflow.
func (e *Engine) Run(ctx context.Context, workflowID string) (*Report, error) {
	log := e.logger.With("workflow_id", workflowID)
	report := &Report{}

	wf, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status != models.WorkflowStatusInProgress {
		log.Debug("workflow not in progress, nothing to dispatch", "status", wf.Status)
		return report, nil
	}
	if !wf.IsValidOn(e.now()) {
		log.Info("workflow past its deadline, dispatch skipped")
		return report, nil
	}
	tmpl, err := e.repo.GetTemplate(ctx, wf.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	pending, err := e.pairs(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	sequential := tmpl.SigningMode == models.SigningModeSequential
	attempted := make(map[string]struct{}, len(pending))

	for _, p := range pending {
		env, rcpt := p.Envelope, p.Recipient
		if env.Status != models.EnvelopeStatusDraft {
			if sequential && rcpt.DeliveryType.RequiresSignature() && env.Status != models.EnvelopeStatusCompleted {
				// an earlier signer has not finished yet
				break
			}
			continue
		}
		if _, ok := attempted[rcpt.ID]; ok {
			continue
		}
		attempted[rcpt.ID] = struct{}{}

		switch res := e.invite(ctx, wf, tmpl.SigningMode, rcpt, env); res {
		case outcomeSent:
			report.Dispatched = append(report.Dispatched, rcpt.ID)
		case outcomeFailed:
			report.Failed = append(report.Failed, rcpt.ID)
		default:
			report.Skipped = append(report.Skipped, rcpt.ID)
		}

		if sequential && rcpt.DeliveryType.RequiresSignature() {
			break
		}
	}

	report.Completed, err = e.FinalizeIfComplete(ctx, workflowID)
	if err != nil {
		return report, err
	}
	log.Info("dispatch pass finished",
		"dispatched", len(report.Dispatched),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
		"completed", report.Completed,
	)
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

func (e *Engine) invite(ctx context.Context, wf *models.Workflow, mode models.SigningMode, rcpt *models.WorkflowRecipient, env *models.WorkflowEnvelope) outcome {
	log := e.logger.With("workflow_id", wf.ID, "recipient_id", rcpt.ID, "envelope_id", env.ID)

	user := rcpt.Identity()
	if user == nil {
		log.Error("cannot dispatch", "error", ErrNoIdentity)
		return outcomeSkipped
	}

	token, err := e.issueToken(ctx, rcpt.ID)
	if err != nil {
		log.Error("token issuance failed, recipient skipped", "error", err)
		return outcomeSkipped
	}

	claimed, err := e.repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusDraft}, models.EnvelopeStatusInProgress, e.now())
	if err != nil {
		log.Error("claim envelope failed", "error", err)
		return outcomeSkipped
	}
	if !claimed {
		log.Debug("envelope already claimed by another pass")
		return outcomeSkipped
	}

	attrs := metric.WithAttributes(attribute.String("signing_mode", string(mode)), attribute.String("delivery_type", string(rcpt.DeliveryType)))
	msg := e.message(notify.KindInvitation, wf, rcpt, user, token.Value)
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.failed.Add(ctx, 1, attrs)
		log.Error("invitation failed", "error", err)
		if _, terr := e.repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusInProgress}, models.EnvelopeStatusFailed, e.now()); terr != nil {
			log.Error("mark envelope failed", "error", terr)
		}
		return outcomeFailed
	}
	e.sent.Add(ctx, 1, attrs)

	if !rcpt.DeliveryType.RequiresSignature() {
		if _, err := e.repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusInProgress}, models.EnvelopeStatusCompleted, e.now()); err != nil {
			log.Error("complete cc envelope", "error", err)
		}
	}
	log.Info("invitation sent", "email", user.Email)
	return outcomeSent
}

// Resend delivers a fresh invitation for an envelope that is in progress or
// failed. A failed envelope moves back to in progress when delivery succeeds.
func (e *Engine) Resend(ctx context.Context, wf *models.Workflow, rcpt *models.WorkflowRecipient, env *models.WorkflowEnvelope) error {
	user := rcpt.Identity()
	if user == nil {
		return ErrNoIdentity
	}
	token, err := e.issueToken(ctx, rcpt.ID)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	if err := e.notifier.Send(ctx, e.message(notify.KindInvitation, wf, rcpt, user, token.Value)); err != nil {
		e.failed.Add(ctx, 1)
		return fmt.Errorf("send invitation: %w", err)
	}
	e.sent.Add(ctx, 1)
	if env.Status == models.EnvelopeStatusFailed {
		if _, err := e.repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusFailed}, models.EnvelopeStatusInProgress, e.now()); err != nil {
			return fmt.Errorf("restore envelope: %w", err)
		}
	}
	return nil
}

// Remind sends a reminder carrying a usable signing link.
func (e *Engine) Remind(ctx context.Context, wf *models.Workflow, rcpt *models.WorkflowRecipient) error {
	user := rcpt.Identity()
	if user == nil {
		return ErrNoIdentity
	}
	token, err := e.issueToken(ctx, rcpt.ID)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	if err := e.notifier.Send(ctx, e.message(notify.KindReminder, wf, rcpt, user, token.Value)); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	e.reminded.Add(ctx, 1)
	return nil
}

// FinalizeIfComplete marks an in-progress workflow completed once every
// envelope is completed, and cancels its reminders. It reports whether the
// workflow is now completed. The status write is conditional, so a cancel or
// expiry committed concurrently is never overwritten.
func (e *Engine) FinalizeIfComplete(ctx context.Context, workflowID string) (bool, error) {
	var completed, changed bool
	err := repository.InTx(ctx, e.repo, func(tx repository.Store) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if wf.Status == models.WorkflowStatusCompleted {
			completed = true
			return nil
		}
		if wf.Status != models.WorkflowStatusInProgress {
			return nil
		}

		envelopes, err := tx.ListEnvelopes(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("list envelopes: %w", err)
		}
		if len(envelopes) == 0 {
			return nil
		}
		for _, env := range envelopes {
			if env.Status != models.EnvelopeStatusCompleted {
				return nil
			}
		}

		from := wf.Status
		if err := lifecycle.Fire(ctx, wf, lifecycle.Complete); err != nil {
			return err
		}
		now := e.now()
		wf.CompletedAt = &now
		wf.UpdatedAt = now
		changed, err = tx.UpdateWorkflow(ctx, wf, from)
		if err != nil {
			return fmt.Errorf("complete workflow: %w", err)
		}
		completed = changed
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.reminders.Cancel(workflowID)
		e.completed.Add(ctx, 1)
		e.logger.Info("workflow completed", "workflow_id", workflowID)
	}
	return completed, nil
}

func (e *Engine) issueToken(ctx context.Context, recipientID string) (*models.SigningToken, error) {
	var token *models.SigningToken
	err := repository.InTx(ctx, e.repo, func(s repository.Store) error {
		var err error
		token, err = e.tokens.GetOrReuseToken(ctx, s, recipientID, e.cfg.TokenTTL)
		return err
	})
	return token, err
}

func (e *Engine) message(kind notify.Kind, wf *models.Workflow, rcpt *models.WorkflowRecipient, user *models.User, token string) notify.Message {
	return notify.Message{
		Kind:         kind,
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		RecipientID:  rcpt.ID,
		Email:        user.Email,
		Name:         user.Name,
		Link:         e.SigningLink(rcpt.ID, token),
		ValidUntil:   wf.ValidUntil,
	}
}

// pairs joins envelopes to recipients, ordered by ascending priority with
// ties broken by creation time, then role.
func (e *Engine) pairs(ctx context.Context, workflowID string) ([]models.EnvelopeWithRecipient, error) {
	recipients, err := e.repo.ListRecipients(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	envelopes, err := e.repo.ListEnvelopes(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	byRecipient := make(map[string]*models.WorkflowEnvelope, len(envelopes))
	for _, env := range envelopes {
		byRecipient[env.RecipientID] = env
	}

	out := make([]models.EnvelopeWithRecipient, 0, len(recipients))
	for _, r := range recipients {
		env, ok := byRecipient[r.ID]
		if !ok {
			e.logger.Warn("recipient without envelope", "workflow_id", workflowID, "recipient_id", r.ID)
			continue
		}
		out = append(out, models.EnvelopeWithRecipient{Envelope: env, Recipient: r})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Recipient, out[j].Recipient
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		// roles are unique within a template
		return a.Role < b.Role
	})
	return out, nil
}
