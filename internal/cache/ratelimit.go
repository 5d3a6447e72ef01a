package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/epochapi/epochapi/internal/ratelimit"
)

const (
	// rateLimitIPPrefix is the Redis key prefix for IP rate limits.
	rateLimitIPPrefix = "ratelimit:ip:"
	// rateLimitIPTTL is the TTL for IP rate limit keys.
	rateLimitIPTTL = 10 * time.Minute
)

// tokenBucketScript is a Lua script implementing the token bucket algorithm.
// It's atomic and handles token refill and consumption in a single operation.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per second
	local burst = tonumber(ARGV[2])     -- max tokens (bucket capacity)
	local now = tonumber(ARGV[3])       -- current time in seconds (fractional)
	local ttl = tonumber(ARGV[4])       -- TTL in seconds

	-- Get current state
	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	-- Refill tokens based on elapsed time
	local elapsed = now - last_update
	tokens = math.min(burst, tokens + (elapsed * rate))

	-- Check if request is allowed
	local allowed = 0
	local retry_after = 0

	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		-- Calculate when 1 token will be available
		retry_after = math.ceil((1 - tokens) / rate)
	end

	-- Update state
	redis.call('HMSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// IPLimiter is a Redis token bucket per client IP.
// Buckets are shared by every instance pointing at the same Redis.
type IPLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	now    func() time.Time
}

var _ ratelimit.Limiter = (*IPLimiter)(nil)

// Allow checks and updates the bucket for an IP address.
// The IP is hashed so raw addresses are never stored.
// Errors are returned to the caller, which decides whether to fail open.
func (l *IPLimiter) Allow(ctx context.Context, ip string) (*ratelimit.Result, error) {
	now := time.Now()
	if l.now != nil {
		now = l.now()
	}

	result, err := tokenBucketScript.Run(ctx, l.client,
		[]string{rateLimitIPPrefix + hashIP(ip)},
		l.rps, l.burst, float64(now.UnixMicro())/1e6, int(rateLimitIPTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run token bucket script: %w", err)
	}
	return bucketResult(result, l.rps, now), nil
}

// bucketResult maps the script reply {allowed, retry_after, tokens}.
func bucketResult(reply []int64, rps float64, now time.Time) *ratelimit.Result {
	res := &ratelimit.Result{
		Allowed:    reply[0] == 1,
		RetryAfter: time.Duration(reply[1]) * time.Second,
		Remaining:  reply[2],
	}
	if rps > 0 {
		res.ResetAt = now.Add(time.Duration(float64(time.Second) / rps))
	}
	return res
}

// hashIP creates a truncated SHA256 hash of an IP address.
// This provides privacy while maintaining uniqueness.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
