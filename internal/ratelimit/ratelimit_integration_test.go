//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDeductionLimiterExhaustsBurst(t *testing.T) {
	client := newTestRedis(t)
	cfg := config.DefaultQuotaConfig()
	cfg.DeductRateLimit = config.RateLimitConfig{Enabled: true, Rate: 0.5, Burst: 2}
	limiter := NewDeductionLimiter(client, config.NewStaticQuotaConfigHolder(cfg), zap.NewNop())
	actor := uuid.NewString()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.AllowActor(ctx, actor)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.AllowActor(ctx, actor)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestProvisionLockIsExclusive(t *testing.T) {
	client := newTestRedis(t)
	lock := NewProvisionLock(client)
	ctx := context.Background()
	scope := "organization:" + uuid.NewString()

	release, ok, err := lock.Acquire(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, scope)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := lock.Acquire(ctx, scope)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestLeaseExtendAndRelease(t *testing.T) {
	client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()
	key := "edupoints:test:lease:" + uuid.NewString()

	lease, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	other, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lease.Extend(ctx, 5*time.Second))
	ttl, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 2*time.Second)

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLeaseLost)
}
