//go:build integration

package cache

import (
	"context"
	"os"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
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

func TestRedisBalanceCacheRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	holder := config.NewStaticQuotaConfigHolder(config.DefaultQuotaConfig())
	c := NewBalanceCache(client, holder, zap.NewNop())
	ctx := context.Background()
	scope := domain.Individual(987654321)
	t.Cleanup(func() { c.Invalidate(ctx, scope) })

	c.Set(ctx, domain.BalanceView{Scope: scope, Capacity: 1000, Consumed: 10, Remaining: 990, Active: true})

	view, ok := c.Get(ctx, scope)
	require.True(t, ok)
	assert.Equal(t, scope, view.Scope)
	assert.Equal(t, int64(990), view.Remaining)

	c.Invalidate(ctx, scope)
	_, ok = c.Get(ctx, scope)
	assert.False(t, ok)
}
