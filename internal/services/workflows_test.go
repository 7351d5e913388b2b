package services

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

func TestCreateTemplate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.svc.CreateTemplate(ctx, owner, CreateTemplateRequest{Name: "x", SigningMode: "random"})
	assert.Equal(t, result.KindValidation, res.Kind)

	res = h.svc.CreateTemplate(ctx, owner, CreateTemplateRequest{
		Name:        "dup",
		SigningMode: models.SigningModeParallel,
		Recipients:  []TemplateRecipientInput{signerSlot("a", "a@x.com", 1), signerSlot("a", "b@x.com", 2)},
	})
	assert.Equal(t, result.KindValidation, res.Kind)
	assert.Contains(t, res.Message, "defined twice")

	tmpl := h.template(t, models.SigningModeSequential, signerSlot("buyer", "a@x.com", 1))
	got := h.svc.GetTemplate(ctx, tmpl.ID)
	require.True(t, got.IsOK())
	assert.Equal(t, "buyer", got.Data.Recipients[0].Role)

	assert.Equal(t, result.KindNotFound, h.svc.GetTemplate(ctx, "missing").Kind)
}

func TestCreateWorkflow_WritesRecipientsAndDraftEnvelopes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeSequential,
		signerSlot("buyer", "a@x.com", 1),
		TemplateRecipientInput{Role: "seller", Priority: 2, DeliveryType: models.DeliveryTypeNeedsToSign})

	res := h.svc.CreateWorkflow(ctx, owner, CreateWorkflowRequest{
		TemplateID: tmpl.ID,
		Name:       "Deal",
		ValidUntil: h.clock.Now().AddDate(0, 0, 3),
	})
	assert.Equal(t, result.KindValidation, res.Kind, "seller has no user")

	res = h.svc.CreateWorkflow(ctx, owner, CreateWorkflowRequest{
		TemplateID: tmpl.ID,
		Name:       "Deal",
		ValidUntil: h.clock.Now().AddDate(0, 0, 3),
		Recipients: []RecipientOverride{{TemplateRecipientID: tmpl.Recipients[1].ID, User: models.User{Email: "s@x.com", Name: "Sam"}}},
	})
	require.True(t, res.IsOK(), res.Message)
	wf := res.Data
	assert.Equal(t, models.WorkflowStatusDraft, wf.Status)
	assert.Equal(t, models.RecipientConfigCustom, wf.RecipientConfigMode)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), wf.ValidUntil)

	envelopes, err := h.repo.ListEnvelopes(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, envelopes, 2)
	for _, env := range envelopes {
		assert.Equal(t, models.EnvelopeStatusDraft, env.Status)
	}
	assert.Equal(t, "Sam", h.recipient(t, wf.ID, "s@x.com").CustomUser.Name)
	assert.Empty(t, h.notifier.sent, "creating does not dispatch")
}

func TestCreateWorkflow_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeParallel, signerSlot("a", "a@x.com", 1))

	cases := map[string]CreateWorkflowRequest{
		"missing name":      {TemplateID: tmpl.ID, ValidUntil: h.clock.Now()},
		"past deadline":     {TemplateID: tmpl.ID, Name: "x", ValidUntil: h.clock.Now().AddDate(0, 0, -1)},
		"auto w/o interval": {TemplateID: tmpl.ID, Name: "x", ValidUntil: h.clock.Now(), AutoReminder: true},
		"unknown override": {TemplateID: tmpl.ID, Name: "x", ValidUntil: h.clock.Now(),
			Recipients: []RecipientOverride{{TemplateRecipientID: "nope", User: models.User{Email: "z@x.com"}}}},
		"bad email": {TemplateID: tmpl.ID, Name: "x", ValidUntil: h.clock.Now(),
			Recipients: []RecipientOverride{{TemplateRecipientID: tmpl.Recipients[0].ID, User: models.User{Email: "nope"}}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res := h.svc.CreateWorkflow(ctx, owner, req)
			assert.Equal(t, result.StatusError, res.Status)
			assert.Equal(t, result.KindValidation, res.Kind, res.Message)
		})
	}

	res := h.svc.CreateWorkflow(ctx, owner, CreateWorkflowRequest{TemplateID: "missing", Name: "x", ValidUntil: h.clock.Now()})
	assert.Equal(t, result.KindNotFound, res.Kind)
}

func TestStartWorkflow_ReminderMath(t *testing.T) {
	h := newHarness(t)
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))

	wf := h.started(t, tmpl, 5)

	assert.Equal(t, models.WorkflowStatusInProgress, wf.Status)
	assert.Equal(t, schedule{intervalDays: 1, repeatCount: 4}, h.reminders.scheduled[wf.ID])
}

func TestStartWorkflow_NoRemindersWithOneDayLeft(t *testing.T) {
	h := newHarness(t)
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))

	wf := h.started(t, tmpl, 1)
	assert.False(t, h.reminders.Exists(wf.ID))

	other := h.workflow(t, tmpl, 0)
	require.True(t, h.svc.StartWorkflow(context.Background(), other.ID).IsOK())
	assert.False(t, h.reminders.Exists(other.ID))
}

func TestStartWorkflow_CCOnlyCompletesWithoutReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cc := signerSlot("observer", "cc@x.com", 1)
	cc.DeliveryType = models.DeliveryTypeCC
	tmpl := h.template(t, models.SigningModeParallel, cc)

	wf := h.started(t, tmpl, 5)

	stored, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.False(t, h.reminders.Exists(wf.ID), "a completed workflow keeps no reminders")
}

func TestStartWorkflow_Guards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))

	wf := h.started(t, tmpl, 3)
	again := h.svc.StartWorkflow(ctx, wf.ID)
	assert.Equal(t, result.KindConflict, again.Kind)
	assert.Len(t, h.notifier.invited(), 1, "no second dispatch")

	late := h.workflow(t, tmpl, 1)
	h.clock.Advance(48 * time.Hour)
	res := h.svc.StartWorkflow(ctx, late.ID)
	assert.Equal(t, result.KindExpired, res.Kind)

	assert.Equal(t, result.KindNotFound, h.svc.StartWorkflow(ctx, "missing").Kind)
}

func TestCancelWorkflow_PersistsReasonAndCancelsReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))
	wf := h.started(t, tmpl, 5)
	require.True(t, h.reminders.Exists(wf.ID))

	res := h.svc.CancelWorkflow(ctx, wf.ID, "customer withdrew")
	require.True(t, res.IsOK(), res.Message)
	assert.False(t, h.reminders.Exists(wf.ID))

	stored, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, "customer withdrew", *stored.CancelReason)

	assert.Equal(t, result.KindConflict, h.svc.CancelWorkflow(ctx, wf.ID, "").Kind)

	signing := h.sign(t, wf.ID, "a@x.com")
	assert.Equal(t, result.StatusError, signing.Status, "cancelled workflows reject signatures")
}

func TestDeleteWorkflow_Guard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeParallel, signerSlot("a", "a@x.com", 1))

	running := h.started(t, tmpl, 5)
	res := h.svc.DeleteWorkflow(ctx, running.ID)
	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, result.KindConflict, res.Kind)

	draft := h.workflow(t, tmpl, 5)
	require.True(t, h.svc.DeleteWorkflow(ctx, draft.ID).IsOK())
	_, err := h.repo.GetWorkflow(ctx, draft.ID)
	assert.Error(t, err)
	assert.Contains(t, h.reminders.cancelled, draft.ID)

	cancelled := h.started(t, tmpl, 5)
	require.True(t, h.svc.CancelWorkflow(ctx, cancelled.ID, "").IsOK())
	require.True(t, h.svc.DeleteWorkflow(ctx, cancelled.ID).IsOK())

	completed := h.started(t, tmpl, 5)
	require.True(t, h.sign(t, completed.ID, "a@x.com").IsOK())
	docs, err := h.repo.ListSignedDocuments(ctx, completed.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	versions, err := h.repo.ListDocumentVersions(ctx, docs[0].ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	file, err := h.repo.GetFileResource(ctx, versions[0].FileResourceID)
	require.NoError(t, err)

	require.True(t, h.svc.DeleteWorkflow(ctx, completed.ID).IsOK())
	_, err = h.repo.GetFileResource(ctx, file.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	exists, err := afero.DirExists(h.fs, "/files/"+completed.ID)
	require.NoError(t, err)
	assert.False(t, exists, "stored blobs are removed")

	expiring := h.started(t, tmpl, 1)
	h.clock.Advance(72 * time.Hour)
	require.True(t, h.svc.ExpireOverdueWorkflows(ctx).IsOK())
	res = h.svc.DeleteWorkflow(ctx, expiring.ID)
	assert.Equal(t, result.StatusError, res.Status)

	assert.Equal(t, result.KindNotFound, h.svc.DeleteWorkflow(ctx, "missing").Kind)
}

func TestUpdateWorkflowSettings_Reschedules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))
	wf := h.started(t, tmpl, 5)
	require.Equal(t, 4, h.reminders.scheduled[wf.ID].repeatCount)

	until := h.clock.Now().AddDate(0, 0, 10)
	interval := 2
	res := h.svc.UpdateWorkflowSettings(ctx, wf.ID, UpdateSettingsRequest{ValidUntil: &until, ReminderIntervalDays: &interval})
	require.True(t, res.IsOK(), res.Message)

	assert.Equal(t, schedule{intervalDays: 2, repeatCount: 9}, h.reminders.scheduled[wf.ID])
	assert.Contains(t, h.reminders.cancelled, wf.ID)

	off := false
	require.True(t, h.svc.UpdateWorkflowSettings(ctx, wf.ID, UpdateSettingsRequest{AutoReminder: &off}).IsOK())
	assert.False(t, h.reminders.Exists(wf.ID))

	past := h.clock.Now().AddDate(0, 0, -1)
	assert.Equal(t, result.KindValidation, h.svc.UpdateWorkflowSettings(ctx, wf.ID, UpdateSettingsRequest{ValidUntil: &past}).Kind)
	assert.Equal(t, result.KindValidation, h.svc.UpdateWorkflowSettings(ctx, wf.ID, UpdateSettingsRequest{}).Kind)

	require.True(t, h.svc.CancelWorkflow(ctx, wf.ID, "").IsOK())
	assert.Equal(t, result.KindConflict, h.svc.UpdateWorkflowSettings(ctx, wf.ID, UpdateSettingsRequest{ValidUntil: &until}).Kind)
}

func TestListWorkflows_ReportsEffectiveStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl := h.template(t, models.SigningModeSequential, signerSlot("a", "a@x.com", 1))
	wf := h.started(t, tmpl, 1)
	h.workflow(t, tmpl, 5)

	h.clock.Advance(72 * time.Hour)
	res := h.svc.ListWorkflows(ctx, owner)
	require.True(t, res.IsOK())
	require.Len(t, res.Data, 2)
	for _, w := range res.Data {
		if w.ID == wf.ID {
			assert.Equal(t, models.WorkflowStatusExpired, w.Status)
		}
	}
	assert.Empty(t, h.svc.ListWorkflows(ctx, "someone@else.com").Data)
}
