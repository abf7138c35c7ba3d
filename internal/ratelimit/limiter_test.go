package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesage/sitesage/internal/coord"
)

func newSharedLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLimiter(NewRedisStore(coord.NewFromClient(client)), nil), mr
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, _ := newSharedLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision := limiter.Check(ctx, "default:1.2.3.4", 5, time.Minute)
		assert.True(t, decision.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 5-i, decision.Remaining)
		assert.Equal(t, SourceShared, decision.Source)
	}

	decision := limiter.Check(ctx, "default:1.2.3.4", 5, time.Minute)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiter_WindowReset(t *testing.T) {
	limiter, mr := newSharedLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	}
	decision := limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	require.False(t, decision.Allowed)

	mr.FastForward(61 * time.Second)

	decision = limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}

func TestLimiter_IndependentKeys(t *testing.T) {
	limiter, _ := newSharedLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	}

	decision := limiter.Check(ctx, "default:5.6.7.8", 2, time.Minute)
	assert.True(t, decision.Allowed)
}

func TestLimiter_FallsBackToMemory(t *testing.T) {
	limiter, mr := newSharedLimiter(t)
	ctx := context.Background()

	decision := limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	require.Equal(t, SourceShared, decision.Source)
	require.False(t, limiter.Degraded())

	mr.Close()

	// The local store starts its own count; limiting keeps working.
	decision = limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	assert.Equal(t, SourceMemoryFallback, decision.Source)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
	assert.True(t, limiter.Degraded())

	limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	decision = limiter.Check(ctx, "default:1.2.3.4", 2, time.Minute)
	assert.False(t, decision.Allowed)
}

func TestLimiter_NoSharedStore(t *testing.T) {
	limiter := NewLimiter(nil, nil)

	decision := limiter.Check(context.Background(), "default:1.2.3.4", 1, time.Minute)
	assert.True(t, decision.Allowed)
	assert.Equal(t, SourceMemoryFallback, decision.Source)
}

func TestLocalStore_WindowSemantics(t *testing.T) {
	store := NewLocalStore()
	ctx := context.Background()

	count, expiresIn, err := store.Incr(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Greater(t, expiresIn, time.Duration(0))

	count, _, err = store.Incr(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	time.Sleep(60 * time.Millisecond)

	count, _, err = store.Incr(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, store.Len())
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, time.Second, ceilSeconds(0))
	assert.Equal(t, time.Second, ceilSeconds(200*time.Millisecond))
	assert.Equal(t, 2*time.Second, ceilSeconds(1100*time.Millisecond))
	assert.Equal(t, 3*time.Second, ceilSeconds(3*time.Second))
}
