package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// RateLimitResult is the outcome of taking one token from a bucket.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// takeToken refills a bucket for the elapsed milliseconds and takes one
// token. Returns {allowed, wait_ms, remaining}.
var takeToken = redis.NewScript(`
local rate_ms = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate_ms)
end

local allowed, wait = 0, 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) / rate_ms)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return {allowed, wait, math.floor(tokens)}
`)

// CheckIPRateLimit takes a token from the bucket of ip within scope, for
// example "scan" or "events". Buckets hold burst tokens and refill at
// ratePerSecond. When Redis cannot answer the request is allowed.
func (c *Cache) CheckIPRateLimit(ctx context.Context, scope, ip string, ratePerSecond float64, burst int) *RateLimitResult {
	now := time.Now()
	if burst < 1 {
		burst = 1
	}
	refill := bucketRefill(ratePerSecond, burst)

	out, err := takeToken.Run(ctx, c.client, []string{bucketKey(scope, ip)},
		ratePerSecond/1000, burst, now.UnixMilli(), refill.Milliseconds(),
	).Int64Slice()
	if err != nil || len(out) != 3 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now}
	}

	wait := time.Duration(out[1]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    out[0] == 1,
		Remaining:  out[2],
		ResetAt:    now.Add(wait),
		RetryAfter: wait,
	}
}

// bucketRefill is how long an empty bucket takes to fill up; idle buckets
// expire after it since they would be full anyway.
func bucketRefill(ratePerSecond float64, burst int) time.Duration {
	if ratePerSecond <= 0 {
		return time.Minute
	}
	seconds := math.Ceil(float64(burst) / ratePerSecond)
	return time.Duration(seconds+1) * time.Second
}

// bucketKey keeps raw client addresses out of Redis.
func bucketKey(scope, ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return rateLimitPrefix + scope + ":" + hex.EncodeToString(sum[:8])
}
