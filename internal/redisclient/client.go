package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IncrWindow increments a rate-limit bucket and returns the new count. The
// bucket expires two windows after last touch so stale counters clean
// themselves up.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr failed: %w", err)
	}
	return incr.Val(), nil
}

// CacheSessionStatus stores a short-lived payment-status snapshot used by
// the unauthenticated check-session probe.
func (c *Client) CacheSessionStatus(ctx context.Context, sessionID, status string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("session-status:%s", sessionID), status, ttl).Err()
}

// GetSessionStatus returns a cached status, or "" on miss.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("session-status:%s", sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
