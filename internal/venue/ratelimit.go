package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript is a distributed token-bucket Lua script: atomic
// refill-then-take against a Redis hash, so many exchange-core
// instances share one venue's rate budget.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local bucket = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or capacity
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last)
local refill = delta * refill_rate
local new_tokens = math.min(capacity, tokens + refill)
if new_tokens < requested then
  redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
  redis.call('EXPIRE', key, 60)
  return {0, new_tokens}
else
  new_tokens = new_tokens - requested
  redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
  redis.call('EXPIRE', key, 60)
  return {1, new_tokens}
end
`)

// RateLimiter is a per-venue distributed token bucket.
type RateLimiter struct {
	client     *redis.Client
	capacity   int
	refillRate float64 // tokens per second
}

func NewRateLimiter(client *redis.Client, capacity int, refillPerSecond float64) *RateLimiter {
	return &RateLimiter{client: client, capacity: capacity, refillRate: refillPerSecond}
}

// Allow takes one token for the named venue, returning false if the
// venue's budget is currently exhausted.
func (l *RateLimiter) Allow(ctx context.Context, venueName string) (bool, error) {
	key := fmt.Sprintf("venue:ratelimit:%s", venueName)
	now := time.Now().Unix()
	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refillRate, now, 1).Result()
	if err != nil {
		return false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	return allowed == 1, nil
}
