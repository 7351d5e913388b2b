package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"signflow/backend/pkg/models"
)

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	repo := NewPostgresRepository(pool)
	defer repo.Close()

	require.NoError(t, repo.EnsureSchema(ctx))
	// Applying twice must be harmless.
	require.NoError(t, repo.EnsureSchema(ctx))

	t.Run("Workflow round trip", func(t *testing.T) {
		wf, rcpt, env := seedWorkflow(t, repo)

		got, err := repo.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)
		assert.Equal(t, models.WorkflowStatusDraft, got.Status)
		assert.True(t, wf.ValidUntil.Equal(got.ValidUntil))

		gotRcpt, err := repo.GetRecipient(ctx, rcpt.ID)
		require.NoError(t, err)
		require.NotNil(t, gotRcpt.Identity())
		assert.Equal(t, "bob@example.com", gotRcpt.Identity().Email)

		gotEnv, err := repo.GetEnvelopeByRecipient(ctx, rcpt.ID)
		require.NoError(t, err)
		assert.Equal(t, env.ID, gotEnv.ID)

		owned, err := repo.ListWorkflowsByOwner(ctx, "owner@acme.com")
		require.NoError(t, err)
		assert.NotEmpty(t, owned)
	})

	t.Run("Rollback discards writes", func(t *testing.T) {
		var wfID string
		err := InTx(ctx, repo, func(tx Store) error {
			wf, _, _ := seedWorkflow(t, tx)
			wfID = wf.ID
			return errors.New("boom")
		})
		require.Error(t, err)

		_, err = repo.GetWorkflow(ctx, wfID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Conditional envelope transition", func(t *testing.T) {
		_, _, env := seedWorkflow(t, repo)
		at := time.Now().UTC()

		changed, err := repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusDraft}, models.EnvelopeStatusInProgress, at)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.TransitionEnvelope(ctx, env.ID, []models.EnvelopeStatus{models.EnvelopeStatusDraft}, models.EnvelopeStatusFailed, at)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := repo.GetEnvelope(ctx, env.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EnvelopeStatusInProgress, got.Status)
		assert.NotNil(t, got.SentAt)
	})

	t.Run("Shared document is unique per workflow", func(t *testing.T) {
		wf, rcpt, _ := seedWorkflow(t, repo)
		now := time.Now().UTC()
		doc := &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true, CreatedAt: now}
		require.NoError(t, repo.CreateSignedDocument(ctx, doc))

		err := repo.CreateSignedDocument(ctx, &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true, CreatedAt: now})
		assert.ErrorIs(t, err, ErrConflict)

		file := &models.FileResource{ID: uuid.New().String(), Path: "p", FileName: "a.pdf", ContentType: "application/pdf", CreatedAt: now}
		require.NoError(t, repo.CreateFileResource(ctx, file))
		require.NoError(t, repo.CreateDocumentVersion(ctx, &models.SignedDocumentVersion{
			ID: uuid.New().String(), DocumentID: doc.ID, FileResourceID: file.ID, RecipientID: rcpt.ID, Version: 1, CreatedAt: now,
		}))
		latest, err := repo.MaxDocumentVersion(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, latest)
	})

	t.Run("Conditional workflow update", func(t *testing.T) {
		wf, _, _ := seedWorkflow(t, repo)

		err := InTx(ctx, repo, func(tx Store) error {
			locked, err := tx.LockWorkflow(ctx, wf.ID)
			if err != nil {
				return err
			}
			locked.Status = models.WorkflowStatusInProgress
			changed, err := tx.UpdateWorkflow(ctx, locked, models.WorkflowStatusDraft)
			if err != nil {
				return err
			}
			assert.True(t, changed)
			return nil
		})
		require.NoError(t, err)

		stale := *wf
		stale.Status = models.WorkflowStatusCancelled
		changed, err := repo.UpdateWorkflow(ctx, &stale, models.WorkflowStatusDraft)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := repo.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusInProgress, got.Status)

		stale.ID = uuid.New().String()
		_, err = repo.UpdateWorkflow(ctx, &stale, models.WorkflowStatusDraft)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete removes referenced file resources", func(t *testing.T) {
		wf, rcpt, _ := seedWorkflow(t, repo)
		now := time.Now().UTC()
		doc := &models.SignedDocument{ID: uuid.New().String(), WorkflowID: wf.ID, IsShared: true, CreatedAt: now}
		require.NoError(t, repo.CreateSignedDocument(ctx, doc))
		file := &models.FileResource{ID: uuid.New().String(), Path: wf.ID + "/a.pdf", FileName: "a.pdf", ContentType: "application/pdf", CreatedAt: now}
		require.NoError(t, repo.CreateFileResource(ctx, file))
		require.NoError(t, repo.CreateDocumentVersion(ctx, &models.SignedDocumentVersion{
			ID: uuid.New().String(), DocumentID: doc.ID, FileResourceID: file.ID, RecipientID: rcpt.ID, Version: 1, CreatedAt: now,
		}))

		require.NoError(t, InTx(ctx, repo, func(tx Store) error {
			return tx.DeleteWorkflow(ctx, wf.ID)
		}))

		_, err := repo.GetFileResource(ctx, file.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetWorkflow(ctx, wf.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
