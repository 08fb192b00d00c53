package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edupoints/internal/config"
	"go.uber.org/zap"
)

const (
	keyDeductionActor = "edupoints:ratelimit:deduct:actor:%s"
	keyProvisionLock  = "edupoints:lock:provision:%s"

	defaultProvisionLockTTL = 10 * time.Second
)

// DeductionLimiter throttles deduction requests per acting teacher. Limits
// are read from the live quota config on every call.
type DeductionLimiter struct {
	bucket *TokenBucket
	holder *config.QuotaConfigHolder
	log    *zap.Logger
}

// NewDeductionLimiter returns nil without redis; a nil limiter allows all.
func NewDeductionLimiter(client *redis.Client, holder *config.QuotaConfigHolder, log *zap.Logger) *DeductionLimiter {
	if client == nil {
		return nil
	}
	return &DeductionLimiter{
		bucket: NewTokenBucket(client),
		holder: holder,
		log:    log.Named("ratelimit.deduction"),
	}
}

func (l *DeductionLimiter) Enabled() bool {
	return l != nil && l.holder.Get().DeductRateLimit.Enabled
}

// AllowActor fails open when redis errors: losing the limiter must not
// stop billing.
func (l *DeductionLimiter) AllowActor(ctx context.Context, actorID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	limits := l.holder.Get().DeductRateLimit
	key := fmt.Sprintf(keyDeductionActor, strings.TrimSpace(actorID))
	result, err := l.bucket.Take(ctx, key, Limits{Rate: limits.Rate, Burst: limits.Burst})
	if err != nil {
		l.log.Warn("deduction rate limit check failed", zap.String("actor_id", actorID), zap.Error(err))
		return &RateLimitResult{Allowed: true}, err
	}
	return result, nil
}

// ProvisionLock serializes administrative provisioning of one scope across
// instances.
type ProvisionLock struct {
	locker *Locker
	ttl    time.Duration
}

func NewProvisionLock(client *redis.Client) *ProvisionLock {
	if client == nil {
		return nil
	}
	return &ProvisionLock{locker: NewLocker(client), ttl: defaultProvisionLockTTL}
}

// Acquire returns a release func. ok is false when another instance holds
// the lock. A nil lock always succeeds.
func (p *ProvisionLock) Acquire(ctx context.Context, scope string) (func(), bool, error) {
	if p == nil {
		return func() {}, true, nil
	}
	lease, err := p.locker.Acquire(ctx, fmt.Sprintf(keyProvisionLock, scope), p.ttl)
	if err != nil || lease == nil {
		return func() {}, false, err
	}
	return func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}, true, nil
}
