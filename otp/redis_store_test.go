package otp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	store := NewRedisStore(client)
	p := "+10000000000"
	t.Cleanup(func() { store.Delete(ctx, p) })

	_, err := store.Get(ctx, p)
	assert.ErrorIs(t, err, ErrNotFound)

	entry := Entry{Code: "123456", ExpiresAt: time.Now().Add(time.Minute).UTC().Truncate(time.Second)}
	require.NoError(t, store.Save(ctx, p, entry, time.Minute))

	n, err := store.IncrementAttempts(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, p))
	_, err = store.IncrementAttempts(ctx, p)
	assert.ErrorIs(t, err, ErrNotFound)
}
