package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	srv.SetTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := bucket.Allow(ctx, "k", 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, time.Second, res.RetryAfter)

	other, err := bucket.Allow(ctx, "other", 1, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestTokenBucketRefillsWithServerTime(t *testing.T) {
	srv, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := bucket.Allow(ctx, "refill", 2, 2)
		require.NoError(t, err)
	}
	res, err := bucket.Allow(ctx, "refill", 2, 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	srv.SetTime(time.Date(2026, 3, 1, 12, 0, 0, int(500*time.Millisecond), time.UTC))
	res, err = bucket.Allow(ctx, "refill", 2, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestAPILimiterWithoutRedisAllowsEverything(t *testing.T) {
	limiter := NewAPILimiter(config.Config{RateLimitPerSecond: 1, RateLimitBurst: 1}, NewTokenBucket(nil))
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "/api/refunds", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAPILimiterKeysByRouteAndCaller(t *testing.T) {
	_, client := newRedis(t)
	limiter := NewAPILimiter(config.Config{RateLimitPerSecond: 1, RateLimitBurst: 1}, NewTokenBucket(client))
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "/api/refunds", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "/api/refunds", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.Allow(ctx, "/api/refunds", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "/api/tax/calculate", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerLeaseLifecycle(t *testing.T) {
	srv, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "leader", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	contender, err := locker.TryAcquire(ctx, "leader", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, contender)

	ok, err := locker.Extend(ctx, lease, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, srv.TTL("leader"))

	// a stranger's token neither extends nor releases
	stranger := &Lease{Key: "leader", Token: "not-mine"}
	ok, err = locker.Extend(ctx, stranger, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, locker.Release(ctx, stranger))
	assert.True(t, srv.Exists("leader"))

	require.NoError(t, locker.Release(ctx, lease))
	assert.False(t, srv.Exists("leader"))

	next, err := locker.TryAcquire(ctx, "leader", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, next)
}

func TestLockerExpiredLeaseIsLost(t *testing.T) {
	srv, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "leader", time.Second)
	require.NoError(t, err)
	srv.FastForward(2 * time.Second)

	ok, err := locker.Extend(ctx, lease, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var nilLocker *Locker
	_, err = nilLocker.TryAcquire(ctx, "leader", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
}
