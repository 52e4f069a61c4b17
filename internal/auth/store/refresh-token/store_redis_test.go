package refreshtoken

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plecsi/reactom/pkg/sentinel"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

func TestRedisStore_ConsumeRotation(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	record := newRecord("user-1")
	require.NoError(t, store.Create(ctx, record))

	consumed, err := store.Consume(ctx, record.JTI, time.Now())
	require.NoError(t, err)
	assert.True(t, consumed.Used)

	_, err = store.Consume(ctx, record.JTI, time.Now())
	require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
}

func TestRedisStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	record := newRecord("user-1")
	require.NoError(t, store.Create(ctx, record))

	const attempts = 8
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		go func() {
			<-start
			_, err := store.Consume(ctx, record.JTI, time.Now())
			errs <- err
		}()
	}
	close(start)

	var wins, replays int
	for i := 0; i < attempts; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			replays++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent consumer may win")
	assert.Equal(t, attempts-1, replays)
}

func TestRedisStore_CreateExpiredRejected(t *testing.T) {
	store := newRedisStore(t)
	record := newRecord("user-1")
	record.ExpiresAt = time.Now().Add(-time.Minute)

	err := store.Create(context.Background(), record)
	require.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestRedisStore_FindCSRF(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	record := newRecord("user-1")
	require.NoError(t, store.Create(ctx, record))

	csrf, err := store.FindCSRF(ctx, record.JTI)
	require.NoError(t, err)
	assert.Equal(t, record.CSRFToken, csrf)

	_, err = store.Consume(ctx, record.JTI, time.Now())
	require.NoError(t, err)
	_, err = store.FindCSRF(ctx, record.JTI)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRedisStore_DeleteByUserID(t *testing.T) {
	store := newRedisStore(t)
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
	_, err = store.Consume(ctx, other.JTI, time.Now())
	require.NoError(t, err)

	require.ErrorIs(t, store.DeleteByUserID(ctx, "ghost"), sentinel.ErrNotFound)
}
