package tokens

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

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setup(t *testing.T) (*Manager, *repository.MemoryRepository, *testClock, string) {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)

	recipient := &models.WorkflowRecipient{
		ID:           uuid.New().String(),
		WorkflowID:   uuid.New().String(),
		Role:         "signer",
		Priority:     1,
		DeliveryType: models.DeliveryTypeNeedsToSign,
	}
	require.NoError(t, repo.CreateRecipient(context.Background(), recipient))

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(clock.Now), repo, clock, recipient.ID
}

func TestCreateToken_RejectsUnknownRecipient(t *testing.T) {
	m, repo, _, _ := setup(t)

	_, err := m.CreateToken(context.Background(), repo, "missing", DefaultTTL)
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestCreateToken_AlwaysFresh(t *testing.T) {
	m, repo, clock, recipientID := setup(t)
	ctx := context.Background()

	a, err := m.CreateToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)
	b, err := m.CreateToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)

	assert.NotEqual(t, a.Value, b.Value)
	assert.Equal(t, clock.Now().Add(DefaultTTL), a.ExpiresAt)
}

func TestGetOrReuseToken_ReturnsActiveToken(t *testing.T) {
	m, repo, clock, recipientID := setup(t)
	ctx := context.Background()

	first, err := m.GetOrReuseToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	second, err := m.GetOrReuseToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	clock.Advance(31 * time.Minute)
	third, err := m.GetOrReuseToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "expired token must be replaced")
}

func TestGetValidToken(t *testing.T) {
	m, repo, clock, recipientID := setup(t)
	ctx := context.Background()

	token, err := m.CreateToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)

	got, err := m.GetValidToken(ctx, repo, token.Value)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)

	_, err = m.GetValidToken(ctx, repo, "unknown")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = m.GetValidToken(ctx, repo, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	clock.Advance(DefaultTTL)
	_, err = m.GetValidToken(ctx, repo, token.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound, "token is invalid at its expiry instant")
}

func TestMarkUsed_IsIdempotent(t *testing.T) {
	m, repo, _, recipientID := setup(t)
	ctx := context.Background()

	token, err := m.CreateToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)

	require.NoError(t, m.MarkUsed(ctx, repo, token.ID))
	require.NoError(t, m.MarkUsed(ctx, repo, token.ID))

	_, err = m.GetValidToken(ctx, repo, token.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	fresh, err := m.GetOrReuseToken(ctx, repo, recipientID, DefaultTTL)
	require.NoError(t, err)
	assert.NotEqual(t, token.ID, fresh.ID, "a used token is never reused")

	assert.ErrorIs(t, m.MarkUsed(ctx, repo, "missing"), ErrTokenNotFound)
}
