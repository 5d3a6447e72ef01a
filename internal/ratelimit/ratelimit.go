// Package ratelimit throttles unauthenticated requests per client.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// idleTTL is how long an untouched bucket is kept before it is evicted.
const idleTTL = 10 * time.Minute

// MemoryLimiter is a per-key token bucket held in process memory.
// Buckets for keys that go quiet expire from the cache.
type MemoryLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *cache.Cache
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows rps requests per second per key with the given burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		buckets: cache.New(idleTTL, idleTTL),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, found := l.buckets.Get(key); found {
		lim := v.(*rate.Limiter)
		l.buckets.Set(key, lim, cache.DefaultExpiration)
		return lim
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.Set(key, lim, cache.DefaultExpiration)
	return lim
}

// Allow consumes one token from key's bucket if one is available.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()
	lim := l.bucket(key)

	// Reserve then cancel when denied, so a rejected request does not
	// push the next allowed time further out.
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return &Result{Allowed: false, ResetAt: now}, nil
	}

	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
		retry := time.Duration(math.Ceil(delay.Seconds())) * time.Second
		return &Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: retry,
		}, nil
	}

	remaining := int64(math.Floor(lim.TokensAt(now)))
	return &Result{
		Allowed:   true,
		Remaining: max(remaining, 0),
		ResetAt:   now.Add(l.refillTime()),
	}, nil
}

// refillTime is the time one token takes to come back.
func (l *MemoryLimiter) refillTime() time.Duration {
	if l.limit <= 0 || l.limit == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.limit))
}

// Len returns the number of live buckets.
func (l *MemoryLimiter) Len() int {
	return l.buckets.ItemCount()
}
