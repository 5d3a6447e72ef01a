package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

const (
	// usagePrefix is the Redis key prefix for usage hashes.
	usagePrefix = "usage:"
	// resetScanCount is the SCAN batch size used by Reset.
	resetScanCount = 500
)

// Usage hash fields. last_call_at holds Unix microseconds, which Lua
// numbers represent exactly.
const (
	fieldToday      = "today"
	fieldMonth      = "month"
	fieldLastCallAt = "last_call_at"
)

// admitScript checks the monthly counter against the quota and, when there
// is room, increments both counters and stamps the call time. A rejected
// attempt does not create the hash.
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local quota = tonumber(ARGV[1])
	local now = ARGV[2]

	local data = redis.call('HMGET', key, 'today', 'month', 'last_call_at')
	local today = tonumber(data[1]) or 0
	local month = tonumber(data[2]) or 0
	local last = tonumber(data[3]) or 0

	if month >= quota then
		return {0, today, month, last}
	end

	today = redis.call('HINCRBY', key, 'today', 1)
	month = redis.call('HINCRBY', key, 'month', 1)
	redis.call('HSET', key, 'last_call_at', now)

	return {1, today, month, tonumber(now)}
`)

// Ledger is a store.Ledger kept in Redis hashes, one per key digest.
type Ledger struct {
	client *redis.Client
	now    store.Clock
}

var _ store.Ledger = (*Ledger)(nil)

// WithClock returns a copy of the ledger that stamps calls with clock.
func (l *Ledger) WithClock(clock store.Clock) *Ledger {
	return &Ledger{client: l.client, now: clock}
}

// RecordCall increments both counters for a key digest.
func (l *Ledger) RecordCall(ctx context.Context, key string) error {
	k := usagePrefix + key
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, k, fieldToday, 1)
		pipe.HIncrBy(ctx, k, fieldMonth, 1)
		pipe.HSet(ctx, k, fieldLastCallAt, l.now().UnixMicro())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// Peek returns the counters for a key digest; absent keys yield the zero snapshot.
func (l *Ledger) Peek(ctx context.Context, key string) (model.UsageSnapshot, error) {
	vals, err := l.client.HMGet(ctx, usagePrefix+key, fieldToday, fieldMonth, fieldLastCallAt).Result()
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("failed to peek usage: %w", err)
	}

	var nums [3]int64
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.UsageSnapshot{}, fmt.Errorf("corrupt usage field: %w", err)
		}
		nums[i] = n
	}

	return snapshot(nums[0], nums[1], nums[2]), nil
}

// IsUnderQuota reports whether the monthly counter is below quota.
func (l *Ledger) IsUnderQuota(ctx context.Context, key string, quota int64) (bool, error) {
	snap, err := l.Peek(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.CallsThisMonth < quota, nil
}

// Admit checks the quota and records the call inside one Lua script.
func (l *Ledger) Admit(ctx context.Context, key string, quota int64) (model.UsageSnapshot, bool, error) {
	res, err := admitScript.Run(ctx, l.client,
		[]string{usagePrefix + key},
		quota, l.now().UnixMicro(),
	).Int64Slice()
	if err != nil {
		return model.UsageSnapshot{}, false, fmt.Errorf("failed to admit call: %w", err)
	}
	if len(res) != 4 {
		return model.UsageSnapshot{}, false, fmt.Errorf("admit script returned %d values", len(res))
	}

	return snapshot(res[1], res[2], res[3]), res[0] == 1, nil
}

// Reset zeroes the counter for period on every usage hash.
// Hashes are visited with SCAN, so the reset is not atomic across keys.
func (l *Ledger) Reset(ctx context.Context, period model.Period) (int64, error) {
	var field string
	switch period {
	case model.PeriodDay:
		field = fieldToday
	case model.PeriodMonth:
		field = fieldMonth
	default:
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownPeriod, period)
	}

	var touched int64
	iter := l.client.Scan(ctx, 0, usagePrefix+"*", resetScanCount).Iterator()
	for iter.Next(ctx) {
		if err := l.client.HSet(ctx, iter.Val(), field, 0).Err(); err != nil {
			return touched, fmt.Errorf("failed to reset usage: %w", err)
		}
		touched++
	}
	if err := iter.Err(); err != nil {
		return touched, fmt.Errorf("failed to scan usage keys: %w", err)
	}

	return touched, nil
}

func snapshot(today, month, lastMicros int64) model.UsageSnapshot {
	snap := model.UsageSnapshot{CallsToday: today, CallsThisMonth: month}
	if lastMicros > 0 {
		snap.LastCallAt = time.UnixMicro(lastMicros).UTC()
	}
	return snap
}
