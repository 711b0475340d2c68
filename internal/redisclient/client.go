package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	idempotencyPrefix = "idempotency:"
	pendingValue      = "pending"
)

// Client wraps go-redis and backs order idempotency keys.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientFromRedis(rdb, ttl), nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{rdb: rdb, ttl: ttl}
}

// Ping reports whether Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// idempotencyKey namespaces key under the idempotency prefix. Callers pass
// keys already scoped by user, giving idempotency:<userID>:<key>.
func idempotencyKey(key string) string {
	return idempotencyPrefix + key
}

// Claim marks key as in flight. It returns false when another request
// already holds or has bound the key.
func (c *Client) Claim(ctx context.Context, key string) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), pendingValue, c.ttl).Result()
}

// Lookup returns the order bound to key. found is false while the key is
// only claimed or does not exist.
func (c *Client) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if val == pendingValue {
		return 0, false, nil
	}

	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	return orderID, true, nil
}

// Bind records the order created under key
func (c *Client) Bind(ctx context.Context, key string, orderID int64) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, c.ttl).Err()
}

// Release drops a claim so the request can be retried
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}
