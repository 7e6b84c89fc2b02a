package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

// ErrStockNotFound is returned when no stock figure was reported for a team
var ErrStockNotFound = errors.New("stock not reported")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
	retryInterval time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
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

	return NewFromClient(rdb), nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
		retryInterval: 25 * time.Millisecond,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Lease is a held distributed lock
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// Acquire takes the named lock, retrying until it is free or ctx is done.
// The lease expires after ttl if the holder dies without releasing it.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{Key: lockKey(name), Token: uuid.New().String(), TTL: ttl}

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := c.rdb.SetNX(ctx, lease.Key, lease.Token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees the lease if this holder still owns it. Returns false when
// the lease had already expired or was taken over.
func (c *Client) Release(ctx context.Context, lease *Lease) (bool, error) {
	result, err := c.releaseScript.Run(ctx, c.rdb, []string{lease.Key}, lease.Token).Result()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}

	released, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return released == 1, nil
}

// Extend pushes the lease expiry out by its TTL
func (c *Client) Extend(ctx context.Context, lease *Lease) (bool, error) {
	result, err := c.extendScript.Run(ctx, c.rdb, []string{lease.Key}, lease.Token, lease.TTL.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("extend lock script failed: %w", err)
	}

	extended, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return extended == 1, nil
}

func stockKey(orderNumber, itemID, componentID, team string) string {
	return fmt.Sprintf("stock:%s:%s:%s:%s", orderNumber, itemID, componentID, team)
}

// SetStock records the raw material available to a team on a component
func (c *Client) SetStock(ctx context.Context, orderNumber, itemID, componentID, team string, available int) error {
	key := stockKey(orderNumber, itemID, componentID, team)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "available", available)
	pipe.HSet(ctx, key, "updated_at", time.Now().UTC().Format(time.RFC3339))

	_, err := pipe.Exec(ctx)
	return err
}

// GetStock reads the latest stock figure reported for a team
func (c *Client) GetStock(ctx context.Context, orderNumber, itemID, componentID, team string) (int, error) {
	key := stockKey(orderNumber, itemID, componentID, team)

	val, err := c.rdb.HGet(ctx, key, "available").Result()
	if err == redis.Nil {
		return 0, ErrStockNotFound
	}
	if err != nil {
		return 0, err
	}

	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid stock value %q: %w", val, err)
	}
	return available, nil
}
