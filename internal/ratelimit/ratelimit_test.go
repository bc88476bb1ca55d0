package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterEnforcesMax(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "a saturated key must not affect others")
}

func TestMemoryLimiterWindowRolls(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(time.Minute, 1)
	l.now = func() time.Time { return current }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)

	current = current.Add(2 * time.Minute)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "a new window starts a fresh budget")

	l.mu.Lock()
	assert.Len(t, l.counts, 1, "stale buckets are pruned")
	l.mu.Unlock()
}

type fakeCounter struct {
	n   int64
	err error
}

func (f *fakeCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.n++
	return f.n, nil
}

func TestRedisLimiterEnforcesMax(t *testing.T) {
	counter := &fakeCounter{}
	l := NewRedisLimiter(counter, "webhook", time.Minute, 2)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "doku:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Allow(ctx, "doku:1.2.3.4")
	assert.True(t, ok)

	ok, _ = l.Allow(ctx, "doku:1.2.3.4")
	assert.False(t, ok)
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	counter := &fakeCounter{err: errors.New("connection refused")}
	l := NewRedisLimiter(counter, "webhook", time.Minute, 1)

	ok, err := l.Allow(context.Background(), "x")
	assert.True(t, ok, "a Redis outage must not block traffic")
	assert.Error(t, err)
}
