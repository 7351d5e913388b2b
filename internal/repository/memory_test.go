package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/backend/pkg/models"
)

func seedWorkflow(t *testing.T, store Store) (*models.Workflow, *models.WorkflowRecipient, *models.WorkflowEnvelope) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	tmpl := &models.Template{
		ID:          uuid.New().String(),
		Name:        "NDA",
		Owner:       "owner@acme.com",
		SigningMode: models.SigningModeSequential,
		Recipients: []models.TemplateRecipient{
			{ID: uuid.New().String(), Role: "signer", Priority: 1, DeliveryType: models.DeliveryTypeNeedsToSign},
		},
		CreatedAt: now,
	}
	require.NoError(t, store.CreateTemplate(ctx, tmpl))

	wf := &models.Workflow{
		ID:                  uuid.New().String(),
		Name:                "NDA for Bob",
		Owner:               "owner@acme.com",
		TemplateID:          tmpl.ID,
		Status:              models.WorkflowStatusDraft,
		ValidUntil:          models.DateOf(now.AddDate(0, 0, 5)),
		RecipientConfigMode: models.RecipientConfigTemplate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	rcpt := &models.WorkflowRecipient{
		ID:                  uuid.New().String(),
		WorkflowID:          wf.ID,
		TemplateRecipientID: tmpl.Recipients[0].ID,
		Role:                "signer",
		Priority:            1,
		DeliveryType:        models.DeliveryTypeNeedsToSign,
		CustomUser:          &models.User{Email: "bob@example.com"},
		CreatedAt:           now,
	}
	require.NoError(t, store.CreateRecipient(ctx, rcpt))

	env := &models.WorkflowEnvelope{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		RecipientID: rcpt.ID,
		Status:      models.EnvelopeStatusDraft,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateEnvelope(ctx, env))
	return wf, rcpt, env
}

func TestMemoryRepository_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)

	var wfID string
	err = InTx(ctx, repo, func(tx Store) error {
		wf, _, _ := seedWorkflow(t, tx)
		wfID = wf.ID
		return errors.New("boom")
	})
	require.Error(t, err)

	_, err = repo.GetWorkflow(ctx, wfID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_CommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)

	var wfID string
	require.NoError(t, InTx(ctx, repo, func(tx Store) error {
		wf, _, _ := seedWorkflow(t, tx)
		wfID = wf.ID
		return nil
	}))

	wf, err := repo.GetWorkflow(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, wf.Status)

	envs, err := repo.ListEnvelopes(ctx, wfID)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestMemoryRepository_TransitionEnvelopeIsConditional(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	_, _, env := seedWorkflow(t, repo)

	at := time.Now().UTC()
	changed, err := repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusDraft}, models.EnvelopeStatusInProgress, at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusDraft}, models.EnvelopeStatusInProgress, at)
	require.NoError(t, err)
	assert.False(t, changed, "second claim must not succeed")

	got, err := repo.GetEnvelope(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvelopeStatusInProgress, got.Status)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(at))
}

func TestMemoryRepository_OneEnvelopePerRecipient(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	wf, rcpt, _ := seedWorkflow(t, repo)

	err = repo.CreateEnvelope(ctx, &models.WorkflowEnvelope{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		RecipientID: rcpt.ID,
		Status:      models.EnvelopeStatusDraft,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryRepository_ActiveToken(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	_, rcpt, _ := seedWorkflow(t, repo)

	now := time.Now().UTC()
	expired := &models.SigningToken{ID: uuid.New().String(), RecipientID: rcpt.ID, Value: "old", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	active := &models.SigningToken{ID: uuid.New().String(), RecipientID: rcpt.ID, Value: "new", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, repo.CreateToken(ctx, expired))
	require.NoError(t, repo.CreateToken(ctx, active))

	got, err := repo.GetActiveToken(ctx, rcpt.ID, now)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	require.NoError(t, repo.MarkTokenUsed(ctx, active.ID, now))
	_, err = repo.GetActiveToken(ctx, rcpt.ID, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_DocumentVersions(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	wf, rcpt, _ := seedWorkflow(t, repo)

	doc := &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true, CreatedAt: time.Now()}
	require.NoError(t, repo.CreateSignedDocument(ctx, doc))
	assert.ErrorIs(t, repo.CreateSignedDocument(ctx, &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true}), ErrConflict)

	latest, err := repo.MaxDocumentVersion(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, latest)

	for v := 1; v <= 2; v++ {
		require.NoError(t, repo.CreateDocumentVersion(ctx, &models.SignedDocumentVersion{
			ID: uuid.New().String(), DocumentID: doc.ID, RecipientID: rcpt.ID, FileResourceID: "f", Version: v,
		}))
	}
	assert.ErrorIs(t, repo.CreateDocumentVersion(ctx, &models.SignedDocumentVersion{
		ID: uuid.New().String(), DocumentID: doc.ID, Version: 2,
	}), ErrConflict)

	latest, err = repo.MaxDocumentVersion(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)
}

func TestMemoryRepository_DeleteWorkflowCascades(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	wf, rcpt, env := seedWorkflow(t, repo)
	require.NoError(t, repo.CreateToken(ctx, &models.SigningToken{ID: uuid.New().String(), RecipientID: rcpt.ID, Value: "v", ExpiresAt: time.Now().Add(time.Hour)}))

	file := &models.FileResource{ID: uuid.New().String(), Path: wf.ID + "/signed.pdf", FileName: "signed.pdf", ContentType: "application/pdf", Size: 4}
	unrelated := &models.FileResource{ID: uuid.New().String(), Path: "other/signed.pdf", FileName: "signed.pdf", ContentType: "application/pdf", Size: 4}
	require.NoError(t, repo.CreateFileResource(ctx, file))
	require.NoError(t, repo.CreateFileResource(ctx, unrelated))
	doc := &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true}
	require.NoError(t, repo.CreateSignedDocument(ctx, doc))
	version := &models.SignedDocumentVersion{ID: uuid.New().String(), DocumentID: doc.ID, FileResourceID: file.ID, RecipientID: rcpt.ID, Version: 1}
	require.NoError(t, repo.CreateDocumentVersion(ctx, version))

	require.NoError(t, repo.DeleteWorkflow(ctx, wf.ID))

	_, err = repo.GetFileResource(ctx, file.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetFileResource(ctx, unrelated.ID)
	assert.NoError(t, err, "files of other workflows survive")
	versions, err := repo.ListDocumentVersions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = repo.GetRecipient(ctx, rcpt.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetEnvelope(ctx, env.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetTokenByValue(ctx, "v")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteWorkflow(ctx, wf.ID), ErrNotFound)
}

func TestMemoryRepository_UpdateWorkflowIsConditional(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	wf, _, _ := seedWorkflow(t, repo)

	started := *wf
	started.Status = models.WorkflowStatusInProgress
	changed, err := repo.UpdateWorkflow(ctx, &started, models.WorkflowStatusDraft)
	require.NoError(t, err)
	assert.True(t, changed)

	// A writer holding the stale draft copy loses.
	cancelled := *wf
	cancelled.Status = models.WorkflowStatusCancelled
	changed, err = repo.UpdateWorkflow(ctx, &cancelled, models.WorkflowStatusDraft)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.LockWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInProgress, got.Status)

	ghost := *wf
	ghost.ID = "missing"
	_, err = repo.UpdateWorkflow(ctx, &ghost, models.WorkflowStatusDraft)
	assert.ErrorIs(t, err, ErrNotFound)
}
