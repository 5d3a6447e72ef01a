package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

type usageShard struct {
	mu      sync.Mutex
	records map[string]*model.UsageSnapshot
}

// Ledger is a sharded in-memory store.Ledger.
type Ledger struct {
	shards []*usageShard
	now    store.Clock
}

var _ store.Ledger = (*Ledger)(nil)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the clock used to stamp LastCallAt.
func WithClock(clock store.Clock) LedgerOption {
	return func(l *Ledger) {
		l.now = clock
	}
}

// WithShards sets the shard count (minimum 1).
func WithShards(n int) LedgerOption {
	return func(l *Ledger) {
		n = max(n, 1)
		l.shards = newUsageShards(n)
	}
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		shards: newUsageShards(DefaultShards),
		now:    store.UTCNow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newUsageShards(n int) []*usageShard {
	shards := make([]*usageShard, n)
	for i := range shards {
		shards[i] = &usageShard{records: make(map[string]*model.UsageSnapshot)}
	}
	return shards
}

func (l *Ledger) shard(key string) *usageShard {
	return l.shards[shardIndex(key, len(l.shards))]
}

// record returns the record for key, creating it. Caller holds sh.mu.
func (sh *usageShard) record(key string) *model.UsageSnapshot {
	rec, ok := sh.records[key]
	if !ok {
		rec = &model.UsageSnapshot{}
		sh.records[key] = rec
	}
	return rec
}

// RecordCall increments both counters for key.
func (l *Ledger) RecordCall(_ context.Context, key string) error {
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec := sh.record(key)
	rec.CallsToday++
	rec.CallsThisMonth++
	rec.LastCallAt = l.now()
	return nil
}

// Peek returns a copy of the counters for key.
func (l *Ledger) Peek(_ context.Context, key string) (model.UsageSnapshot, error) {
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if rec, ok := sh.records[key]; ok {
		return *rec, nil
	}
	return model.UsageSnapshot{}, nil
}

// IsUnderQuota reports whether key has made fewer than quota calls this month.
func (l *Ledger) IsUnderQuota(ctx context.Context, key string, quota int64) (bool, error) {
	snap, err := l.Peek(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.CallsThisMonth < quota, nil
}

// Admit checks and increments under the shard lock. A rejected attempt
// leaves no record behind.
func (l *Ledger) Admit(_ context.Context, key string, quota int64) (model.UsageSnapshot, bool, error) {
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if ok && rec.CallsThisMonth >= quota {
		return *rec, false, nil
	}
	if !ok {
		if quota <= 0 {
			return model.UsageSnapshot{}, false, nil
		}
		rec = sh.record(key)
	}

	rec.CallsToday++
	rec.CallsThisMonth++
	rec.LastCallAt = l.now()
	return *rec, true, nil
}

// Reset zeroes the counter for period on every record.
func (l *Ledger) Reset(_ context.Context, period model.Period) (int64, error) {
	var zero func(*model.UsageSnapshot)
	switch period {
	case model.PeriodDay:
		zero = func(r *model.UsageSnapshot) { r.CallsToday = 0 }
	case model.PeriodMonth:
		zero = func(r *model.UsageSnapshot) { r.CallsThisMonth = 0 }
	default:
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownPeriod, period)
	}

	var n int64
	for _, sh := range l.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			zero(rec)
			n++
		}
		sh.mu.Unlock()
	}
	return n, nil
}
