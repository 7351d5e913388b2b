package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"signflow/backend/pkg/models"
)

// ErrEmptyFile is returned when an upload carries no bytes.
var ErrEmptyFile = errors.New("uploaded file is empty")

// FileStore writes uploaded artifacts to a filesystem rooted at a directory.
// Production uses the OS filesystem; tests use an in-memory one.
type FileStore struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// NewFileStore creates a FileStore. The root directory is created on first write.
func NewFileStore(fs afero.Fs, root string, now func() time.Time) *FileStore {
	if now == nil {
		now = time.Now
	}
	return &FileStore{fs: fs, root: root, now: now}
}

// Save copies r into the store under workflowID and returns the stored resource.
// The returned resource is not yet persisted in the repository.
func (s *FileStore) Save(ctx context.Context, workflowID, fileName, contentType string, r io.Reader) (*models.FileResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	dir := filepath.Join(s.root, workflowID)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	rel := filepath.Join(workflowID, id+filepath.Ext(path.Base(fileName)))
	f, err := s.fs.Create(filepath.Join(s.root, rel))
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size == 0 {
		err = ErrEmptyFile
	}
	if err != nil {
		_ = s.fs.Remove(filepath.Join(s.root, rel))
		return nil, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &models.FileResource{
		ID:          id,
		Path:        rel,
		FileName:    path.Base(fileName),
		ContentType: contentType,
		Size:        size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		CreatedAt:   s.now(),
	}, nil
}

// Open returns a reader over a stored file.
func (s *FileStore) Open(rel string) (afero.File, error) {
	return s.fs.Open(filepath.Join(s.root, rel))
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (s *FileStore) Delete(rel string) error {
	err := s.fs.Remove(filepath.Join(s.root, rel))
	if err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return err
	}
	return nil
}

// RemoveAll deletes every file stored under workflowID. Removing a workflow
// with no stored files is not an error.
func (s *FileStore) RemoveAll(workflowID string) error {
	if workflowID == "" || workflowID != filepath.Base(workflowID) || workflowID == "." || workflowID == ".." {
		return fmt.Errorf("invalid workflow directory %q", workflowID)
	}
	return s.fs.RemoveAll(filepath.Join(s.root, workflowID))
}
