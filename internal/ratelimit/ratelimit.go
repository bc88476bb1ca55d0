package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is a sliding-window request counter. Implementations live either
// in process memory (single-instance deployments, tests) or in Redis
// (shared across instances); call sites do not care which.
type Limiter interface {
	// Allow records one attempt for key and reports whether it is within
	// the window's budget.
	Allow(ctx context.Context, key string) (bool, error)
}

// bucketKey folds the current window number into the counter key.
func bucketKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, now.UnixNano()/int64(window))
}

// MemoryLimiter counts attempts per key per window bucket in a map, pruning
// stale buckets as it goes.
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		window: window,
		max:    max,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	bucket := bucketKey(key, now, l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[bucket] >= l.max {
		return false, nil
	}
	l.counts[bucket]++

	suffix := fmt.Sprintf(":%d", now.UnixNano()/int64(l.window))
	for k := range l.counts {
		if len(k) < len(suffix) || k[len(k)-len(suffix):] != suffix {
			delete(l.counts, k)
		}
	}
	return true, nil
}

// windowCounter is the Redis operation RedisLimiter needs; satisfied by
// redisclient.Client.
type windowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisLimiter shares the window counters across instances. Counter errors
// fail open: a Redis outage must not take the webhook path down with it.
type RedisLimiter struct {
	counter windowCounter
	scope   string
	window  time.Duration
	max     int
}

func NewRedisLimiter(counter windowCounter, scope string, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{counter: counter, scope: scope, window: window, max: max}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := bucketKey(fmt.Sprintf("rl:%s:%s", l.scope, key), time.Now(), l.window)
	n, err := l.counter.IncrWindow(ctx, bucket, l.window)
	if err != nil {
		return true, err
	}
	return n <= int64(l.max), nil
}
