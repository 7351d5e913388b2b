package repository

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"signflow/backend/pkg/models"
)

const (
	tableTemplates  = "templates"
	tableWorkflows  = "workflows"
	tableRecipients = "recipients"
	tableEnvelopes  = "envelopes"
	tableTokens     = "tokens"
	tableFiles      = "files"
	tableDocuments  = "documents"
	tableVersions   = "versions"
	tableSignatures = "signatures"
)

func idIndex() *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}}
}

func fieldIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: name, AllowMissing: true, Indexer: &memdb.StringFieldIndex{Field: field}}
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTemplates: {Name: tableTemplates, Indexes: map[string]*memdb.IndexSchema{
				"id": idIndex(),
			}},
			tableWorkflows: {Name: tableWorkflows, Indexes: map[string]*memdb.IndexSchema{
				"id":     idIndex(),
				"owner":  fieldIndex("owner", "Owner"),
				"status": fieldIndex("status", "Status"),
			}},
			tableRecipients: {Name: tableRecipients, Indexes: map[string]*memdb.IndexSchema{
				"id":       idIndex(),
				"workflow": fieldIndex("workflow", "WorkflowID"),
			}},
			tableEnvelopes: {Name: tableEnvelopes, Indexes: map[string]*memdb.IndexSchema{
				"id":        idIndex(),
				"workflow":  fieldIndex("workflow", "WorkflowID"),
				"recipient": fieldIndex("recipient", "RecipientID"),
			}},
			tableTokens: {Name: tableTokens, Indexes: map[string]*memdb.IndexSchema{
				"id":        idIndex(),
				"value":     fieldIndex("value", "Value"),
				"recipient": fieldIndex("recipient", "RecipientID"),
			}},
			tableFiles: {Name: tableFiles, Indexes: map[string]*memdb.IndexSchema{
				"id": idIndex(),
			}},
			tableDocuments: {Name: tableDocuments, Indexes: map[string]*memdb.IndexSchema{
				"id":       idIndex(),
				"workflow": fieldIndex("workflow", "WorkflowID"),
			}},
			tableVersions: {Name: tableVersions, Indexes: map[string]*memdb.IndexSchema{
				"id":       idIndex(),
				"document": fieldIndex("document", "DocumentID"),
			}},
			tableSignatures: {Name: tableSignatures, Indexes: map[string]*memdb.IndexSchema{
				"id":        idIndex(),
				"recipient": fieldIndex("recipient", "RecipientID"),
			}},
		},
	}
}

// MemoryRepository is an in-process Repository backed by go-memdb. Writers are
// serialized by memdb, so a transaction holds the single write lock until it
// commits or rolls back. It backs the dev "memory" driver and service tests.
type MemoryRepository struct {
	*memStore
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, err
	}
	return &MemoryRepository{memStore: &memStore{db: db}}, nil
}

// BeginTx opens a write transaction.
func (r *MemoryRepository) BeginTx(ctx context.Context) (Tx, error) {
	return &memTx{memStore: &memStore{db: r.db, txn: r.db.Txn(true)}}, nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (r *MemoryRepository) Close() {}

type memTx struct {
	*memStore
}

func (t *memTx) Commit(ctx context.Context) error {
	t.txn.Commit()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.txn.Abort()
	return nil
}

type memStore struct {
	db  *memdb.MemDB
	txn *memdb.Txn // set when the store belongs to a transaction
}

func (s *memStore) read(fn func(txn *memdb.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (s *memStore) write(fn func(txn *memdb.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

// first returns the stored object or ErrNotFound. Callers copy before mutating.
func first(txn *memdb.Txn, table, index string, arg string) (interface{}, error) {
	raw, err := txn.First(table, index, arg)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw, nil
}

func insertNew(txn *memdb.Txn, table, id string, obj interface{}) error {
	existing, err := txn.First(table, "id", id)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrConflict
	}
	return txn.Insert(table, obj)
}

func collect[T any](txn *memdb.Txn, table, index string, arg string) ([]*T, error) {
	it, err := txn.Get(table, index, arg)
	if err != nil {
		return nil, err
	}
	var out []*T
	for raw := it.Next(); raw != nil; raw = it.Next() {
		c := *raw.(*T)
		out = append(out, &c)
	}
	return out, nil
}

// Templates

func (s *memStore) CreateTemplate(ctx context.Context, t *models.Template) error {
	c := *t
	c.Recipients = append([]models.TemplateRecipient(nil), t.Recipients...)
	for i := range c.Recipients {
		c.Recipients[i].TemplateID = t.ID
	}
	return s.write(func(txn *memdb.Txn) error {
		return insertNew(txn, tableTemplates, c.ID, &c)
	})
}

func (s *memStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var out *models.Template
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableTemplates, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.Template)
		c.Recipients = append([]models.TemplateRecipient(nil), c.Recipients...)
		sort.SliceStable(c.Recipients, func(i, j int) bool { return c.Recipients[i].Priority < c.Recipients[j].Priority })
		out = &c
		return nil
	})
	return out, err
}

// Workflows

func (s *memStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	c := *w
	return s.write(func(txn *memdb.Txn) error {
		return insertNew(txn, tableWorkflows, c.ID, &c)
	})
}

func (s *memStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var out *models.Workflow
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableWorkflows, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.Workflow)
		out = &c
		return nil
	})
	return out, err
}

// LockWorkflow is a plain read: memdb already serializes writers.
func (s *memStore) LockWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return s.GetWorkflow(ctx, id)
}

func (s *memStore) UpdateWorkflow(ctx context.Context, w *models.Workflow, from models.WorkflowStatus) (bool, error) {
	c := *w
	changed := false
	err := s.write(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableWorkflows, "id", c.ID)
		if err != nil {
			return err
		}
		if raw.(*models.Workflow).Status != from {
			return nil
		}
		changed = true
		return txn.Insert(tableWorkflows, &c)
	})
	return changed, err
}

func (s *memStore) DeleteWorkflow(ctx context.Context, id string) error {
	return s.write(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableWorkflows, "id", id)
		if err != nil {
			return err
		}
		recipients, err := collect[models.WorkflowRecipient](txn, tableRecipients, "workflow", id)
		if err != nil {
			return err
		}
		for _, r := range recipients {
			if _, err := txn.DeleteAll(tableTokens, "recipient", r.ID); err != nil {
				return err
			}
			if _, err := txn.DeleteAll(tableSignatures, "recipient", r.ID); err != nil {
				return err
			}
		}
		docs, err := collect[models.SignedDocument](txn, tableDocuments, "workflow", id)
		if err != nil {
			return err
		}
		for _, d := range docs {
			versions, err := collect[models.SignedDocumentVersion](txn, tableVersions, "document", d.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if _, err := txn.DeleteAll(tableFiles, "id", v.FileResourceID); err != nil {
					return err
				}
			}
			if _, err := txn.DeleteAll(tableVersions, "document", d.ID); err != nil {
				return err
			}
		}
		for _, table := range []string{tableDocuments, tableEnvelopes, tableRecipients} {
			if _, err := txn.DeleteAll(table, "workflow", id); err != nil {
				return err
			}
		}
		return txn.Delete(tableWorkflows, raw)
	})
}

func (s *memStore) listWorkflows(index, arg string) ([]*models.Workflow, error) {
	var out []*models.Workflow
	err := s.read(func(txn *memdb.Txn) error {
		var err error
		out, err = collect[models.Workflow](txn, tableWorkflows, index, arg)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (s *memStore) ListWorkflowsByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	return s.listWorkflows("owner", owner)
}

func (s *memStore) ListWorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	return s.listWorkflows("status", string(status))
}

// Recipients

func (s *memStore) CreateRecipient(ctx context.Context, r *models.WorkflowRecipient) error {
	c := *r
	return s.write(func(txn *memdb.Txn) error {
		return insertNew(txn, tableRecipients, c.ID, &c)
	})
}

func (s *memStore) GetRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error) {
	var out *models.WorkflowRecipient
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableRecipients, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.WorkflowRecipient)
		out = &c
		return nil
	})
	return out, err
}

// LockRecipient is a plain read: memdb already serializes writers.
func (s *memStore) LockRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error) {
	return s.GetRecipient(ctx, id)
}

func (s *memStore) ListRecipients(ctx context.Context, workflowID string) ([]*models.WorkflowRecipient, error) {
	var out []*models.WorkflowRecipient
	err := s.read(func(txn *memdb.Txn) error {
		var err error
		out, err = collect[models.WorkflowRecipient](txn, tableRecipients, "workflow", workflowID)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// Envelopes

func (s *memStore) CreateEnvelope(ctx context.Context, e *models.WorkflowEnvelope) error {
	c := *e
	return s.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableEnvelopes, "recipient", c.RecipientID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrConflict
		}
		return insertNew(txn, tableEnvelopes, c.ID, &c)
	})
}

func (s *memStore) getEnvelope(index, arg string) (*models.WorkflowEnvelope, error) {
	var out *models.WorkflowEnvelope
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableEnvelopes, index, arg)
		if err != nil {
			return err
		}
		c := *raw.(*models.WorkflowEnvelope)
		out = &c
		return nil
	})
	return out, err
}

func (s *memStore) GetEnvelope(ctx context.Context, id string) (*models.WorkflowEnvelope, error) {
	return s.getEnvelope("id", id)
}

func (s *memStore) GetEnvelopeByRecipient(ctx context.Context, recipientID string) (*models.WorkflowEnvelope, error) {
	return s.getEnvelope("recipient", recipientID)
}

func (s *memStore) ListEnvelopes(ctx context.Context, workflowID string) ([]*models.WorkflowEnvelope, error) {
	var out []*models.WorkflowEnvelope
	err := s.read(func(txn *memdb.Txn) error {
		var err error
		out, err = collect[models.WorkflowEnvelope](txn, tableEnvelopes, "workflow", workflowID)
		return err
	})
	return out, err
}

func (s *memStore) TransitionEnvelope(ctx context.Context, id string, from []models.EnvelopeStatus, to models.EnvelopeStatus, at time.Time) (bool, error) {
	changed := false
	err := s.write(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableEnvelopes, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.WorkflowEnvelope)
		if !containsStatus(from, c.Status) {
			return nil
		}
		c.Status = to
		c.UpdatedAt = at
		switch to {
		case models.EnvelopeStatusInProgress:
			c.SentAt = &at
		case models.EnvelopeStatusCompleted:
			c.CompletedAt = &at
		}
		changed = true
		return txn.Insert(tableEnvelopes, &c)
	})
	return changed, err
}

// Tokens

func (s *memStore) CreateToken(ctx context.Context, t *models.SigningToken) error {
	c := *t
	return s.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableTokens, "value", c.Value)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrConflict
		}
		return insertNew(txn, tableTokens, c.ID, &c)
	})
}

func (s *memStore) GetActiveToken(ctx context.Context, recipientID string, now time.Time) (*models.SigningToken, error) {
	var out *models.SigningToken
	err := s.read(func(txn *memdb.Txn) error {
		tokens, err := collect[models.SigningToken](txn, tableTokens, "recipient", recipientID)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if t.IsActive(now) && (out == nil || t.CreatedAt.After(out.CreatedAt)) {
				out = t
			}
		}
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (s *memStore) GetTokenByValue(ctx context.Context, value string) (*models.SigningToken, error) {
	var out *models.SigningToken
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableTokens, "value", value)
		if err != nil {
			return err
		}
		c := *raw.(*models.SigningToken)
		out = &c
		return nil
	})
	return out, err
}

func (s *memStore) MarkTokenUsed(ctx context.Context, id string, at time.Time) error {
	return s.write(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableTokens, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.SigningToken)
		if c.Used {
			return nil
		}
		c.Used = true
		c.UsedAt = &at
		return txn.Insert(tableTokens, &c)
	})
}

// Files and signed documents

func (s *memStore) CreateFileResource(ctx context.Context, f *models.FileResource) error {
	c := *f
	return s.write(func(txn *memdb.Txn) error {
		return insertNew(txn, tableFiles, c.ID, &c)
	})
}

func (s *memStore) GetFileResource(ctx context.Context, id string) (*models.FileResource, error) {
	var out *models.FileResource
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableFiles, "id", id)
		if err != nil {
			return err
		}
		c := *raw.(*models.FileResource)
		out = &c
		return nil
	})
	return out, err
}

func (s *memStore) CreateSignedDocument(ctx context.Context, d *models.SignedDocument) error {
	c := *d
	return s.write(func(txn *memdb.Txn) error {
		if c.IsShared {
			docs, err := collect[models.SignedDocument](txn, tableDocuments, "workflow", c.WorkflowID)
			if err != nil {
				return err
			}
			for _, existing := range docs {
				if existing.IsShared {
					return ErrConflict
				}
			}
		}
		return insertNew(txn, tableDocuments, c.ID, &c)
	})
}

func (s *memStore) GetSharedDocument(ctx context.Context, workflowID string) (*models.SignedDocument, error) {
	docs, err := s.ListSignedDocuments(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.IsShared {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListSignedDocuments(ctx context.Context, workflowID string) ([]*models.SignedDocument, error) {
	var out []*models.SignedDocument
	err := s.read(func(txn *memdb.Txn) error {
		var err error
		out, err = collect[models.SignedDocument](txn, tableDocuments, "workflow", workflowID)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (s *memStore) CreateDocumentVersion(ctx context.Context, v *models.SignedDocumentVersion) error {
	c := *v
	return s.write(func(txn *memdb.Txn) error {
		versions, err := collect[models.SignedDocumentVersion](txn, tableVersions, "document", c.DocumentID)
		if err != nil {
			return err
		}
		for _, existing := range versions {
			if existing.Version == c.Version {
				return ErrConflict
			}
		}
		return insertNew(txn, tableVersions, c.ID, &c)
	})
}

func (s *memStore) MaxDocumentVersion(ctx context.Context, documentID string) (int, error) {
	versions, err := s.ListDocumentVersions(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

func (s *memStore) ListDocumentVersions(ctx context.Context, documentID string) ([]*models.SignedDocumentVersion, error) {
	var out []*models.SignedDocumentVersion
	err := s.read(func(txn *memdb.Txn) error {
		var err error
		out, err = collect[models.SignedDocumentVersion](txn, tableVersions, "document", documentID)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, err
}

// Signatures

func (s *memStore) CreateSignature(ctx context.Context, sig *models.WorkflowRecipientSignature) error {
	c := *sig
	return s.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableSignatures, "recipient", c.RecipientID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrConflict
		}
		return insertNew(txn, tableSignatures, c.ID, &c)
	})
}

func (s *memStore) GetSignatureByRecipient(ctx context.Context, recipientID string) (*models.WorkflowRecipientSignature, error) {
	var out *models.WorkflowRecipientSignature
	err := s.read(func(txn *memdb.Txn) error {
		raw, err := first(txn, tableSignatures, "recipient", recipientID)
		if err != nil {
			return err
		}
		c := *raw.(*models.WorkflowRecipientSignature)
		out = &c
		return nil
	})
	return out, err
}
