package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"go.uber.org/zap"
)

const balanceKeyPrefix = "edupoints:balance:"

// BalanceCache serves dashboard balance reads. It never feeds admission.
type BalanceCache interface {
	Get(ctx context.Context, scope domain.ScopeRef) (domain.BalanceView, bool)
	Set(ctx context.Context, view domain.BalanceView)
	Invalidate(ctx context.Context, scope domain.ScopeRef)
}

type memoryBalanceCache struct {
	items  Cache[string, domain.BalanceView]
	holder *config.QuotaConfigHolder
}

func NewMemoryBalanceCache(holder *config.QuotaConfigHolder) BalanceCache {
	return &memoryBalanceCache{
		items:  NewTTLCache[string, domain.BalanceView](),
		holder: holder,
	}
}

func (c *memoryBalanceCache) Get(_ context.Context, scope domain.ScopeRef) (domain.BalanceView, bool) {
	return c.items.Get(scope.String())
}

func (c *memoryBalanceCache) Set(_ context.Context, view domain.BalanceView) {
	c.items.Set(view.Scope.String(), view, c.holder.Get().BalanceCacheTTL)
}

func (c *memoryBalanceCache) Invalidate(_ context.Context, scope domain.ScopeRef) {
	c.items.Delete(scope.String())
}

// redisBalanceCache shares cached balances across instances. Redis errors
// degrade to cache misses.
type redisBalanceCache struct {
	client *redis.Client
	holder *config.QuotaConfigHolder
	log    *zap.Logger
}

func NewRedisBalanceCache(client *redis.Client, holder *config.QuotaConfigHolder, log *zap.Logger) BalanceCache {
	return &redisBalanceCache{
		client: client,
		holder: holder,
		log:    log.Named("cache.balance"),
	}
}

func (c *redisBalanceCache) Get(ctx context.Context, scope domain.ScopeRef) (domain.BalanceView, bool) {
	raw, err := c.client.Get(ctx, balanceKey(scope)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("balance cache read failed", zap.String("scope", scope.String()), zap.Error(err))
		}
		return domain.BalanceView{}, false
	}
	var view domain.BalanceView
	if err := json.Unmarshal(raw, &view); err != nil {
		return domain.BalanceView{}, false
	}
	return view, true
}

func (c *redisBalanceCache) Set(ctx context.Context, view domain.BalanceView) {
	ttl := c.holder.Get().BalanceCacheTTL
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(view.Scope), raw, ttl).Err(); err != nil {
		c.log.Warn("balance cache write failed", zap.String("scope", view.Scope.String()), zap.Error(err))
	}
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, scope domain.ScopeRef) {
	if err := c.client.Del(ctx, balanceKey(scope)).Err(); err != nil {
		c.log.Warn("balance cache invalidate failed", zap.String("scope", scope.String()), zap.Error(err))
	}
}

func balanceKey(scope domain.ScopeRef) string {
	return balanceKeyPrefix + strings.ToLower(scope.String())
}

// NewBalanceCache picks the shared cache when redis is configured.
func NewBalanceCache(client *redis.Client, holder *config.QuotaConfigHolder, log *zap.Logger) BalanceCache {
	if client == nil {
		return NewMemoryBalanceCache(holder)
	}
	return NewRedisBalanceCache(client, holder, log)
}
