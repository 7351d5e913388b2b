// Package tokens issues and redeems the single-use links that let a recipient
// submit exactly one signature.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signflow/backend/internal/repository"
	"signflow/backend/pkg/models"
)

// DefaultTTL is the lifetime of a freshly issued signing token.
const DefaultTTL = 60 * time.Minute

var (
	// ErrTokenNotFound is returned for unknown, expired, or already used tokens.
	ErrTokenNotFound = errors.New("signing token not found or no longer valid")
	// ErrInvalidRecipient is returned when the recipient does not exist.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Manager issues, validates, and invalidates signing tokens.
type Manager struct {
	now func() time.Time
}

// NewManager creates a Manager. A nil clock uses time.Now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now}
}

// CreateToken always issues a fresh token for the recipient.
func (m *Manager) CreateToken(ctx context.Context, store repository.Store, recipientID string, ttl time.Duration) (*models.SigningToken, error) {
	if _, err := store.GetRecipient(ctx, recipientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, recipientID)
		}
		return nil, err
	}
	return m.issue(ctx, store, recipientID, ttl)
}

// GetOrReuseToken returns the recipient's active token, issuing one only when
// none exists. The recipient row is locked for the duration of the caller's
// transaction so two concurrent callers cannot both issue.
func (m *Manager) GetOrReuseToken(ctx context.Context, store repository.Store, recipientID string, ttl time.Duration) (*models.SigningToken, error) {
	if _, err := store.LockRecipient(ctx, recipientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, recipientID)
		}
		return nil, err
	}

	token, err := store.GetActiveToken(ctx, recipientID, m.now())
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return m.issue(ctx, store, recipientID, ttl)
}

// GetValidToken resolves a token value that is neither used nor expired.
func (m *Manager) GetValidToken(ctx context.Context, store repository.Store, value string) (*models.SigningToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	token, err := store.GetTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if !token.IsActive(m.now()) {
		return nil, ErrTokenNotFound
	}
	return token, nil
}

// MarkUsed invalidates the token. Marking an already used token is a no-op.
func (m *Manager) MarkUsed(ctx context.Context, store repository.Store, tokenID string) error {
	if err := store.MarkTokenUsed(ctx, tokenID, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}
	return nil
}

func (m *Manager) issue(ctx context.Context, store repository.Store, recipientID string, ttl time.Duration) (*models.SigningToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	value, err := generateValue()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	now := m.now()
	token := &models.SigningToken{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Value:       value,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

func generateValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
