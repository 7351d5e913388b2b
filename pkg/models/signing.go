package models

import (
	"time"
)

// SigningToken is a short-lived, single-use credential for one recipient.
type SigningToken struct {
	ID          string     `json:"id" db:"id"`
	RecipientID string     `json:"recipient_id" db:"recipient_id"`
	Value       string     `json:"-" db:"value"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	Used        bool       `json:"used" db:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// IsActive reports whether the token can still be redeemed at now.
func (t *SigningToken) IsActive(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// FileResource is a stored blob such as an uploaded signed PDF.
type FileResource struct {
	ID          string    `json:"id" db:"id"`
	Path        string    `json:"path" db:"path"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	SHA256      string    `json:"sha256" db:"sha256"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SignedDocument groups the versions of a signed artifact. A shared document
// accumulates one version per sequential signer; an exclusive one belongs to a
// single recipient.
type SignedDocument struct {
	ID          string    `json:"id" db:"id"`
	WorkflowID  string    `json:"workflow_id" db:"workflow_id"`
	RecipientID string    `json:"recipient_id,omitempty" db:"recipient_id"`
	IsShared    bool      `json:"is_shared" db:"is_shared"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SignedDocumentVersion links a stored file to a document at a version number.
type SignedDocumentVersion struct {
	ID             string    `json:"id" db:"id"`
	DocumentID     string    `json:"document_id" db:"document_id"`
	FileResourceID string    `json:"file_resource_id" db:"file_resource_id"`
	RecipientID    string    `json:"recipient_id" db:"recipient_id"`
	Version        int       `json:"version" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// WorkflowRecipientSignature records one successful sign action.
type WorkflowRecipientSignature struct {
	ID                string    `json:"id" db:"id"`
	RecipientID       string    `json:"recipient_id" db:"recipient_id"`
	SignedDocumentID  string    `json:"signed_document_id" db:"signed_document_id"`
	DocumentVersionID string    `json:"document_version_id" db:"document_version_id"`
	Signed            bool      `json:"signed" db:"signed"`
	SignedAt          time.Time `json:"signed_at" db:"signed_at"`
}
