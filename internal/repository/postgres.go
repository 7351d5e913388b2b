package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/backend/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresStore implements Store against any querier.
type postgresStore struct {
	q querier
}

// PostgresRepository is a PostgreSQL implementation of the Repository interface.
type PostgresRepository struct {
	*postgresStore
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{postgresStore: &postgresStore{q: db}, db: db}
}

// EnsureSchema creates the tables used by the repository when they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// BeginTx starts a transaction.
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{postgresStore: &postgresStore{q: tx}, tx: tx}, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

type postgresTx struct {
	*postgresStore
	tx pgx.Tx
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// uniqueViolation is the SQLSTATE Postgres reports for a violated unique constraint.
const uniqueViolation = "23505"

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func userColumns(u *models.User) (*string, *string) {
	if u == nil {
		return nil, nil
	}
	return nullString(u.Email), nullString(u.Name)
}

func userFromColumns(email, name *string) *models.User {
	if email == nil || *email == "" {
		return nil
	}
	u := &models.User{Email: *email}
	if name != nil {
		u.Name = *name
	}
	return u
}

// Templates

func (s *postgresStore) CreateTemplate(ctx context.Context, t *models.Template) error {
	if _, err := s.q.Exec(ctx,
		"INSERT INTO templates (id, name, owner, signing_mode, created_at) VALUES ($1, $2, $3, $4, $5)",
		t.ID, t.Name, t.Owner, t.SigningMode, t.CreatedAt); err != nil {
		return err
	}
	for _, r := range t.Recipients {
		email, name := userColumns(r.DefaultUser)
		if _, err := s.q.Exec(ctx,
			"INSERT INTO template_recipients (id, template_id, role, priority, delivery_type, default_user_email, default_user_name) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			r.ID, t.ID, r.Role, r.Priority, r.DeliveryType, email, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := s.q.QueryRow(ctx, "SELECT id, name, owner, signing_mode, created_at FROM templates WHERE id = $1", id).
		Scan(&t.ID, &t.Name, &t.Owner, &t.SigningMode, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := s.q.Query(ctx,
		"SELECT id, template_id, role, priority, delivery_type, default_user_email, default_user_name FROM template_recipients WHERE template_id = $1 ORDER BY priority, id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.TemplateRecipient
		var email, name *string
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.Role, &r.Priority, &r.DeliveryType, &email, &name); err != nil {
			return nil, err
		}
		r.DefaultUser = userFromColumns(email, name)
		t.Recipients = append(t.Recipients, r)
	}
	return &t, rows.Err()
}

// Workflows

const workflowColumns = "id, name, owner, template_id, status, valid_until, reminder_interval_days, auto_reminder, recipient_config_mode, cancel_reason, created_at, updated_at, completed_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	err := row.Scan(&w.ID, &w.Name, &w.Owner, &w.TemplateID, &w.Status, &w.ValidUntil, &w.ReminderIntervalDays,
		&w.AutoReminder, &w.RecipientConfigMode, &w.CancelReason, &w.CreatedAt, &w.UpdatedAt, &w.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *postgresStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflows ("+workflowColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		w.ID, w.Name, w.Owner, w.TemplateID, w.Status, w.ValidUntil, w.ReminderIntervalDays, w.AutoReminder,
		w.RecipientConfigMode, w.CancelReason, w.CreatedAt, w.UpdatedAt, w.CompletedAt)
	return conflict(err)
}

func (s *postgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := scanWorkflow(s.q.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (s *postgresStore) LockWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := scanWorkflow(s.q.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (s *postgresStore) UpdateWorkflow(ctx context.Context, w *models.Workflow, from models.WorkflowStatus) (bool, error) {
	tag, err := s.q.Exec(ctx,
		"UPDATE workflows SET name = $1, status = $2, valid_until = $3, reminder_interval_days = $4, auto_reminder = $5, cancel_reason = $6, updated_at = $7, completed_at = $8 WHERE id = $9 AND status = $10",
		w.Name, w.Status, w.ValidUntil, w.ReminderIntervalDays, w.AutoReminder, w.CancelReason, w.UpdatedAt, w.CompletedAt, w.ID, from)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)", w.ID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// DeleteWorkflow relies on ON DELETE CASCADE for owned rows. File resources are
// referenced by versions rather than owning a workflow id, so their ids are
// collected first and removed once the versions are gone.
func (s *postgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	rows, err := s.q.Query(ctx,
		"SELECT v.file_resource_id FROM signed_document_versions v JOIN signed_documents d ON d.id = v.document_id WHERE d.workflow_id = $1", id)
	if err != nil {
		return err
	}
	fileIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if len(fileIDs) > 0 {
		if _, err := s.q.Exec(ctx, "DELETE FROM file_resources WHERE id = ANY($1)", fileIDs); err != nil {
			return fmt.Errorf("delete file resources: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) listWorkflows(ctx context.Context, where string, arg any) ([]*models.Workflow, error) {
	rows, err := s.q.Query(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE "+where+" ORDER BY created_at", arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (s *postgresStore) ListWorkflowsByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	return s.listWorkflows(ctx, "owner = $1", owner)
}

func (s *postgresStore) ListWorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	return s.listWorkflows(ctx, "status = $1", status)
}

// Recipients

const recipientColumns = "id, workflow_id, template_recipient_id, role, priority, delivery_type, default_user_email, default_user_name, custom_user_email, custom_user_name, created_at"

func scanRecipient(row pgx.Row) (*models.WorkflowRecipient, error) {
	var r models.WorkflowRecipient
	var defEmail, defName, customEmail, customName *string
	err := row.Scan(&r.ID, &r.WorkflowID, &r.TemplateRecipientID, &r.Role, &r.Priority, &r.DeliveryType,
		&defEmail, &defName, &customEmail, &customName, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.DefaultUser = userFromColumns(defEmail, defName)
	r.CustomUser = userFromColumns(customEmail, customName)
	return &r, nil
}

func (s *postgresStore) CreateRecipient(ctx context.Context, r *models.WorkflowRecipient) error {
	defEmail, defName := userColumns(r.DefaultUser)
	customEmail, customName := userColumns(r.CustomUser)
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflow_recipients ("+recipientColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		r.ID, r.WorkflowID, r.TemplateRecipientID, r.Role, r.Priority, r.DeliveryType,
		defEmail, defName, customEmail, customName, r.CreatedAt)
	return conflict(err)
}

func (s *postgresStore) GetRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error) {
	r, err := scanRecipient(s.q.QueryRow(ctx, "SELECT "+recipientColumns+" FROM workflow_recipients WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *postgresStore) LockRecipient(ctx context.Context, id string) (*models.WorkflowRecipient, error) {
	r, err := scanRecipient(s.q.QueryRow(ctx, "SELECT "+recipientColumns+" FROM workflow_recipients WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *postgresStore) ListRecipients(ctx context.Context, workflowID string) ([]*models.WorkflowRecipient, error) {
	rows, err := s.q.Query(ctx,
		"SELECT "+recipientColumns+" FROM workflow_recipients WHERE workflow_id = $1 ORDER BY priority, id", workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*models.WorkflowRecipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Envelopes

const envelopeColumns = "id, workflow_id, recipient_id, status, sent_at, completed_at, updated_at"

func scanEnvelope(row pgx.Row) (*models.WorkflowEnvelope, error) {
	var e models.WorkflowEnvelope
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.RecipientID, &e.Status, &e.SentAt, &e.CompletedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *postgresStore) CreateEnvelope(ctx context.Context, e *models.WorkflowEnvelope) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflow_envelopes ("+envelopeColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		e.ID, e.WorkflowID, e.RecipientID, e.Status, e.SentAt, e.CompletedAt, e.UpdatedAt)
	return conflict(err)
}

func (s *postgresStore) GetEnvelope(ctx context.Context, id string) (*models.WorkflowEnvelope, error) {
	e, err := scanEnvelope(s.q.QueryRow(ctx, "SELECT "+envelopeColumns+" FROM workflow_envelopes WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *postgresStore) GetEnvelopeByRecipient(ctx context.Context, recipientID string) (*models.WorkflowEnvelope, error) {
	e, err := scanEnvelope(s.q.QueryRow(ctx, "SELECT "+envelopeColumns+" FROM workflow_envelopes WHERE recipient_id = $1", recipientID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *postgresStore) ListEnvelopes(ctx context.Context, workflowID string) ([]*models.WorkflowEnvelope, error) {
	rows, err := s.q.Query(ctx, "SELECT "+envelopeColumns+" FROM workflow_envelopes WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*models.WorkflowEnvelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, e)
	}
	return envelopes, rows.Err()
}

func (s *postgresStore) TransitionEnvelope(ctx context.Context, id string, from []models.EnvelopeStatus, to models.EnvelopeStatus, at time.Time) (bool, error) {
	fromStrings := make([]string, len(from))
	for i, f := range from {
		fromStrings[i] = string(f)
	}
	tag, err := s.q.Exec(ctx, `UPDATE workflow_envelopes SET
			status = $1,
			updated_at = $2,
			sent_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE sent_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3 AND status = ANY($4)`,
		string(to), at, id, fromStrings)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Tokens

const tokenColumns = "id, recipient_id, value, expires_at, used, used_at, created_at"

func scanToken(row pgx.Row) (*models.SigningToken, error) {
	var t models.SigningToken
	if err := row.Scan(&t.ID, &t.RecipientID, &t.Value, &t.ExpiresAt, &t.Used, &t.UsedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *postgresStore) CreateToken(ctx context.Context, t *models.SigningToken) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO signing_tokens ("+tokenColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		t.ID, t.RecipientID, t.Value, t.ExpiresAt, t.Used, t.UsedAt, t.CreatedAt)
	return conflict(err)
}

func (s *postgresStore) GetActiveToken(ctx context.Context, recipientID string, now time.Time) (*models.SigningToken, error) {
	t, err := scanToken(s.q.QueryRow(ctx,
		"SELECT "+tokenColumns+" FROM signing_tokens WHERE recipient_id = $1 AND NOT used AND expires_at > $2 ORDER BY created_at DESC LIMIT 1",
		recipientID, now))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *postgresStore) GetTokenByValue(ctx context.Context, value string) (*models.SigningToken, error) {
	t, err := scanToken(s.q.QueryRow(ctx, "SELECT "+tokenColumns+" FROM signing_tokens WHERE value = $1", value))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *postgresStore) MarkTokenUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.q.Exec(ctx, "UPDATE signing_tokens SET used = TRUE, used_at = COALESCE(used_at, $1) WHERE id = $2", at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Files and signed documents

func (s *postgresStore) CreateFileResource(ctx context.Context, f *models.FileResource) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO file_resources (id, path, file_name, content_type, size, sha256, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		f.ID, f.Path, f.FileName, f.ContentType, f.Size, f.SHA256, f.CreatedAt)
	return conflict(err)
}

func (s *postgresStore) GetFileResource(ctx context.Context, id string) (*models.FileResource, error) {
	var f models.FileResource
	err := s.q.QueryRow(ctx,
		"SELECT id, path, file_name, content_type, size, sha256, created_at FROM file_resources WHERE id = $1", id).
		Scan(&f.ID, &f.Path, &f.FileName, &f.ContentType, &f.Size, &f.SHA256, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

const documentColumns = "id, workflow_id, recipient_id, is_shared, created_at"

func scanDocument(row pgx.Row) (*models.SignedDocument, error) {
	var d models.SignedDocument
	var recipientID *string
	if err := row.Scan(&d.ID, &d.WorkflowID, &recipientID, &d.IsShared, &d.CreatedAt); err != nil {
		return nil, err
	}
	if recipientID != nil {
		d.RecipientID = *recipientID
	}
	return &d, nil
}

func (s *postgresStore) CreateSignedDocument(ctx context.Context, d *models.SignedDocument) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO signed_documents ("+documentColumns+") VALUES ($1, $2, $3, $4, $5)",
		d.ID, d.WorkflowID, nullString(d.RecipientID), d.IsShared, d.CreatedAt)
	return conflict(err)
}

func (s *postgresStore) GetSharedDocument(ctx context.Context, workflowID string) (*models.SignedDocument, error) {
	d, err := scanDocument(s.q.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM signed_documents WHERE workflow_id = $1 AND is_shared", workflowID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (s *postgresStore) ListSignedDocuments(ctx context.Context, workflowID string) ([]*models.SignedDocument, error) {
	rows, err := s.q.Query(ctx,
		"SELECT "+documentColumns+" FROM signed_documents WHERE workflow_id = $1 ORDER BY created_at, id", workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.SignedDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *postgresStore) CreateDocumentVersion(ctx context.Context, v *models.SignedDocumentVersion) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO signed_document_versions (id, document_id, file_resource_id, recipient_id, version, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		v.ID, v.DocumentID, v.FileResourceID, v.RecipientID, v.Version, v.CreatedAt)
	return conflict(err)
}

func (s *postgresStore) MaxDocumentVersion(ctx context.Context, documentID string) (int, error) {
	var current int
	err := s.q.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM signed_document_versions WHERE document_id = $1", documentID).Scan(&current)
	return current, err
}

func (s *postgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]*models.SignedDocumentVersion, error) {
	rows, err := s.q.Query(ctx,
		"SELECT id, document_id, file_resource_id, recipient_id, version, created_at FROM signed_document_versions WHERE document_id = $1 ORDER BY version",
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.SignedDocumentVersion
	for rows.Next() {
		var v models.SignedDocumentVersion
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.FileResourceID, &v.RecipientID, &v.Version, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// Signatures

func (s *postgresStore) CreateSignature(ctx context.Context, sig *models.WorkflowRecipientSignature) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO workflow_recipient_signatures (id, recipient_id, signed_document_id, document_version_id, signed, signed_at) VALUES ($1, $2, $3, $4, $5, $6)",
		sig.ID, sig.RecipientID, sig.SignedDocumentID, sig.DocumentVersionID, sig.Signed, sig.SignedAt)
	return conflict(err)
}

func (s *postgresStore) GetSignatureByRecipient(ctx context.Context, recipientID string) (*models.WorkflowRecipientSignature, error) {
	var sig models.WorkflowRecipientSignature
	err := s.q.QueryRow(ctx,
		"SELECT id, recipient_id, signed_document_id, document_version_id, signed, signed_at FROM workflow_recipient_signatures WHERE recipient_id = $1",
		recipientID).Scan(&sig.ID, &sig.RecipientID, &sig.SignedDocumentID, &sig.DocumentVersionID, &sig.Signed, &sig.SignedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sig, nil
}
