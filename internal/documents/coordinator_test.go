package documents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
)

func fixedClock() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func newFile() *models.FileResource {
	id := uuid.New().String()
	return &models.FileResource{ID: id, Path: "wf/" + id + ".pdf", FileName: "signed.pdf", ContentType: "application/pdf", Size: 3}
}

func TestRecord_SequentialAppendsVersionsToSharedDocument(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	ctx := context.Background()
	c := NewCoordinator(fixedClock)

	first, err := c.Record(ctx, repo, models.SigningModeSequential, "wf-1", "alice", newFile())
	require.NoError(t, err)
	second, err := c.Record(ctx, repo, models.SigningModeSequential, "wf-1", "bob", newFile())
	require.NoError(t, err)

	assert.True(t, first.Document.IsShared)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, 1, first.Version.Version)
	assert.Equal(t, 2, second.Version.Version)
	assert.Equal(t, "bob", second.Version.RecipientID)

	docs, err := repo.ListSignedDocuments(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	versions, err := repo.ListDocumentVersions(ctx, first.Document.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, []int{1, 2}, []int{versions[0].Version, versions[1].Version})
}

func TestRecord_ParallelCreatesExclusiveDocuments(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	ctx := context.Background()
	c := NewCoordinator(fixedClock)

	a, err := c.Record(ctx, repo, models.SigningModeParallel, "wf-2", "alice", newFile())
	require.NoError(t, err)
	b, err := c.Record(ctx, repo, models.SigningModeParallel, "wf-2", "bob", newFile())
	require.NoError(t, err)

	assert.NotEqual(t, a.Document.ID, b.Document.ID)
	assert.False(t, a.Document.IsShared)
	assert.Equal(t, "alice", a.Document.RecipientID)
	assert.Equal(t, 1, a.Version.Version)
	assert.Equal(t, 1, b.Version.Version)

	_, err = repo.GetSharedDocument(ctx, "wf-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecord_RollsBackWithTransaction(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	ctx := context.Background()
	c := NewCoordinator(fixedClock)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	_, err = c.Record(ctx, tx, models.SigningModeSequential, "wf-3", "alice", newFile())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	docs, err := repo.ListSignedDocuments(ctx, "wf-3")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRecord_RequiresFile(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)

	_, err = NewCoordinator(nil).Record(context.Background(), repo, models.SigningModeParallel, "wf", "r", nil)
	assert.Error(t, err)
}
