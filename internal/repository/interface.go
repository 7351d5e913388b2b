package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signflow/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// Store holds the per-entity operations shared by the repository and its transactions.
type Store interface {
	CreateTemplate(ctx context.Context, template *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)

	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// LockWorkflow reads the workflow and holds a row lock until the transaction ends.
	LockWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// UpdateWorkflow writes the workflow only when its stored status is still
	// `from`. It reports whether the row changed.
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow, from models.WorkflowStatus) (bool, error)
	// DeleteWorkflow removes the workflow, every row it owns, and the file
	// resources its document versions point at.
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflowsByOwner(ctx context.Context, owner string) ([]*models.Workflow, error)
	ListWorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error)

	CreateRecipient(ctx context.Context, recipient *models.WorkflowRecipient) error
	GetRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error)
	// LockRecipient reads the recipient and holds a row lock until the transaction ends.
	LockRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error)
	ListRecipients(ctx context.Context, workflowID string) ([]*models.WorkflowRecipient, error)

	CreateEnvelope(ctx context.Context, envelope *models.WorkflowEnvelope) error
	GetEnvelope(ctx context.Context, id string) (*models.WorkflowEnvelope, error)
	GetEnvelopeByRecipient(ctx context.Context, recipientID string) (*models.WorkflowEnvelope, error)
	ListEnvelopes(ctx context.Context, workflowID string) ([]*models.WorkflowEnvelope, error)
	// TransitionEnvelope moves an envelope to `to` only when its current status is one of
	// `from`. It reports whether the row changed. SentAt is stamped on entering in_progress
	// and CompletedAt on entering completed.
	TransitionEnvelope(ctx context.Context, id string, from []models.EnvelopeStatus, to models.EnvelopeStatus, at time.Time) (bool, error)

	CreateToken(ctx context.Context, token *models.SigningToken) error
	GetActiveToken(ctx context.Context, recipientID string, now time.Time) (*models.SigningToken, error)
	GetTokenByValue(ctx context.Context, value string) (*models.SigningToken, error)
	MarkTokenUsed(ctx context.Context, id string, at time.Time) error

	CreateFileResource(ctx context.Context, file *models.FileResource) error
	GetFileResource(ctx context.Context, id string) (*models.FileResource, error)

	CreateSignedDocument(ctx context.Context, doc *models.SignedDocument) error
	GetSharedDocument(ctx context.Context, workflowID string) (*models.SignedDocument, error)
	ListSignedDocuments(ctx context.Context, workflowID string) ([]*models.SignedDocument, error)
	CreateDocumentVersion(ctx context.Context, version *models.SignedDocumentVersion) error
	// MaxDocumentVersion returns 0 when the document has no versions yet.
	MaxDocumentVersion(ctx context.Context, documentID string) (int, error)
	ListDocumentVersions(ctx context.Context, documentID string) ([]*models.SignedDocumentVersion, error)

	CreateSignature(ctx context.Context, signature *models.WorkflowRecipientSignature) error
	GetSignatureByRecipient(ctx context.Context, recipientID string) (*models.WorkflowRecipientSignature, error)
}

// Tx is a Store whose writes become visible only after Commit.
type Tx interface {
	Store
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is the persistence entry point.
type Repository interface {
	Store
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// InTx runs fn inside a transaction. Any error from fn, or a panic, rolls the
// transaction back; otherwise it is committed.
func InTx(ctx context.Context, repo Repository, fn func(Store) error) (err error) {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func containsStatus(set []models.EnvelopeStatus, s models.EnvelopeStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
