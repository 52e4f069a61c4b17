package refreshtoken

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/pkg/sentinel"
)

func newRecord(userID string) *models.RefreshTokenRecord {
	return &models.RefreshTokenRecord{
		JTI:       uuid.NewString(),
		UserID:    userID,
		CSRFToken: uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
}

func TestMemoryStore_ConsumeRotation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newRecord("user-1")
	require.NoError(t, store.Create(ctx, record))

	consumed, err := store.Consume(ctx, record.JTI, time.Now())
	require.NoError(t, err)
	assert.True(t, consumed.Used)
	assert.Equal(t, record.UserID, consumed.UserID)

	// Replay of a consumed token is detected, and the record is still
	// returned for upstream replay handling.
	replayed, err := store.Consume(ctx, record.JTI, time.Now())
	require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	assert.NotNil(t, replayed)
}

func TestMemoryStore_ConsumeExpired(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newRecord("user-1")
	record.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, record))

	_, err := store.Consume(ctx, record.JTI, time.Now())
	require.ErrorIs(t, err, sentinel.ErrExpired)
}

func TestMemoryStore_ConsumeMissing(t *testing.T) {
	store := NewMemory()
	_, err := store.Consume(context.Background(), uuid.NewString(), time.Now())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_FindCSRF(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newRecord("user-1")
	require.NoError(t, store.Create(ctx, record))

	csrf, err := store.FindCSRF(ctx, record.JTI)
	require.NoError(t, err)
	assert.Equal(t, record.CSRFToken, csrf)

	// A rotated-away record no longer answers for CSRF checks.
	_, err = store.Consume(ctx, record.JTI, time.Now())
	require.NoError(t, err)
	_, err = store.FindCSRF(ctx, record.JTI)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_DeleteByUserID(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := newRecord("user-1")
	second := newRecord("user-1")
	other := newRecord("user-2")
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, store.Create(ctx, other))

	require.NoError(t, store.DeleteByUserID(ctx, "user-1"))

	_, err := store.Consume(ctx, first.JTI, time.Now())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = store.Consume(ctx, second.JTI, time.Now())
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// Other users' tokens survive.
	_, err = store.Consume(ctx, other.JTI, time.Now())
	require.NoError(t, err)

	require.ErrorIs(t, store.DeleteByUserID(ctx, "ghost"), sentinel.ErrNotFound)
}
