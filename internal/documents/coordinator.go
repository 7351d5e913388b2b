// Package documents decides where a signed artifact lands: a new version of
// the workflow's shared document, or a document of its own.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
)

// Recorded is the outcome of attaching an artifact to a workflow.
type Recorded struct {
	Document *models.SignedDocument
	Version  *models.SignedDocumentVersion
	File     *models.FileResource
}

// Coordinator records signed document versions. It must be called with a
// transactional store so the file, document, and version rows commit together.
type Coordinator struct {
	now func() time.Time
}

// NewCoordinator creates a Coordinator. A nil clock uses time.Now.
func NewCoordinator(now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{now: now}
}

// Record persists file and links it to a document version for the recipient.
//
// Sequential workflows share one document whose versions grow by one with each
// signer. Parallel workflows give every signer an exclusive document at version 1.
func (c *Coordinator) Record(ctx context.Context, store repository.Store, mode models.SigningMode, workflowID, recipientID string, file *models.FileResource) (*Recorded, error) {
	if file == nil {
		return nil, errors.New("file resource is required")
	}
	now := c.now()

	var (
		doc     *models.SignedDocument
		version = 1
		err     error
	)
	if mode == models.SigningModeSequential {
		doc, err = store.GetSharedDocument(ctx, workflowID)
		switch {
		case err == nil:
			current, err := store.MaxDocumentVersion(ctx, doc.ID)
			if err != nil {
				return nil, fmt.Errorf("read latest version: %w", err)
			}
			version = current + 1
		case errors.Is(err, repository.ErrNotFound):
			doc = nil
		default:
			return nil, fmt.Errorf("find shared document: %w", err)
		}
	}

	if doc == nil {
		doc = &models.SignedDocument{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			IsShared:   mode == models.SigningModeSequential,
			CreatedAt:  now,
		}
		if !doc.IsShared {
			doc.RecipientID = recipientID
		}
		if err := store.CreateSignedDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("create signed document: %w", err)
		}
	}

	if err := store.CreateFileResource(ctx, file); err != nil {
		return nil, fmt.Errorf("store file resource: %w", err)
	}

	v := &models.SignedDocumentVersion{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		FileResourceID: file.ID,
		RecipientID:    recipientID,
		Version:        version,
		CreatedAt:      now,
	}
	if err := store.CreateDocumentVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("create document version %d: %w", version, err)
	}

	return &Recorded{Document: doc, Version: v, File: file}, nil
}
