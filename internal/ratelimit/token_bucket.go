package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket refills continuously at rate tokens per second up to burst.
// It replies {allowed, tokens_left_milli, retry_after_ms}.
var takeToken = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens * 1000), retry}
`)

// Limits configures one bucket.
type Limits struct {
	Rate  float64
	Burst int
}

func (l Limits) validate() error {
	if l.Rate <= 0 || l.Burst <= 0 {
		return errors.New("rate and burst must be positive")
	}
	return nil
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func (l Limits) idleTTL() time.Duration {
	if l.validate() != nil {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(l.Burst)/l.Rate*2))
	return time.Duration(seconds) * time.Second
}

// RateLimitResult is the outcome of taking one token.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket is a redis-backed token bucket shared by all instances.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take spends one token from the bucket at key.
func (b *TokenBucket) Take(ctx context.Context, key string, limits Limits) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: limits.Burst}
	if b == nil || b.client == nil {
		return denied, errors.New("rate limiter not configured")
	}
	if key == "" {
		return denied, errors.New("rate limiter key is empty")
	}
	if err := limits.validate(); err != nil {
		return denied, err
	}

	reply, err := takeToken.Run(ctx, b.client, []string{key},
		limits.Rate, limits.Burst, limits.idleTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return denied, err
	}
	if len(reply) != 3 {
		return denied, errors.New("unexpected token bucket reply")
	}

	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		Limit:      limits.Burst,
		Remaining:  int(reply[1] / 1000),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
