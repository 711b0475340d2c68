package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return NewClientFromRedis(rdb, time.Minute)
}

func TestIdempotencyLifecycle(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	key := "test-" + uuid.New().String()
	defer c.Release(ctx, key)

	claimed, err := c.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = c.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, found, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "a claimed key is not bound yet")

	require.NoError(t, c.Bind(ctx, key, 42))

	orderID, found, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), orderID)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	key := "test-" + uuid.New().String()
	defer c.Release(ctx, key)

	claimed, err := c.Claim(ctx, key)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, c.Release(ctx, key))

	claimed, err = c.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestLookupMissingKey(t *testing.T) {
	c := setupClient(t)

	_, found, err := c.Lookup(context.Background(), "missing-"+uuid.New().String())
	require.NoError(t, err)
	assert.False(t, found)
}
