package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// redisLimiter shares one fixed window per key across service replicas. The
// increment and expiry run in a single script so concurrent replicas cannot
// split a window.
type redisLimiter struct {
	client *redis.Client
	clock  func() time.Time
}

var allowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

func NewRedisLimiter(addr, password string, db int, clock func() time.Time) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, domain.NewError(domain.CodeInvalidConfig, "redis addr is required")
	}
	if clock == nil {
		clock = time.Now
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &redisLimiter{client: client, clock: clock}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}

	raw, err := allowScript.Run(ctx, r.client, []string{key}, windowMillis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, domain.WrapError(domain.CodeBackendUnavailable, "redis rate limit", err)
	}
	values, ok := raw.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, domain.NewError(domain.CodeBackendUnavailable, "unexpected redis rate limit reply")
	}
	hits, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, domain.NewError(domain.CodeBackendUnavailable, "invalid redis counter reply")
	}
	ttlMillis, _ := values[1].(int64)

	resetAt := r.clock()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   hits <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
