package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// UsageLedger implements store.Ledger on the key_usage table.
//
// Admit is a single INSERT ... ON CONFLICT DO UPDATE ... WHERE statement.
// The conflict branch takes the row lock and re-evaluates the quota
// predicate against the latest row version, so concurrent admissions for
// one key serialize in the database while other keys proceed in parallel.
type UsageLedger struct {
	pool *pgxpool.Pool
	now  store.Clock
}

var _ store.Ledger = (*UsageLedger)(nil)

// WithClock returns a copy of the ledger that stamps calls with clock.
func (l *UsageLedger) WithClock(clock store.Clock) *UsageLedger {
	return &UsageLedger{pool: l.pool, now: clock}
}

// RecordCall increments both counters for a key digest.
func (l *UsageLedger) RecordCall(ctx context.Context, key string) error {
	query := `
		INSERT INTO key_usage (key_digest, calls_today, calls_this_month, last_call_at)
		VALUES ($1, 1, 1, $2)
		ON CONFLICT (key_digest) DO UPDATE SET
			calls_today = key_usage.calls_today + 1,
			calls_this_month = key_usage.calls_this_month + 1,
			last_call_at = EXCLUDED.last_call_at
	`

	if _, err := l.pool.Exec(ctx, query, key, l.now()); err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	return nil
}

// Peek returns the counters for a key digest; absent keys yield the zero snapshot.
func (l *UsageLedger) Peek(ctx context.Context, key string) (model.UsageSnapshot, error) {
	query := `
		SELECT calls_today, calls_this_month, last_call_at
		FROM key_usage
		WHERE key_digest = $1
	`

	snap, err := scanUsage(l.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UsageSnapshot{}, nil
		}
		return model.UsageSnapshot{}, fmt.Errorf("failed to peek usage: %w", err)
	}

	return snap, nil
}

// IsUnderQuota reports whether the monthly counter is below quota.
func (l *UsageLedger) IsUnderQuota(ctx context.Context, key string, quota int64) (bool, error) {
	snap, err := l.Peek(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.CallsThisMonth < quota, nil
}

// Admit checks the quota and records the call atomically.
func (l *UsageLedger) Admit(ctx context.Context, key string, quota int64) (model.UsageSnapshot, bool, error) {
	if quota <= 0 {
		snap, err := l.Peek(ctx, key)
		return snap, false, err
	}

	query := `
		INSERT INTO key_usage (key_digest, calls_today, calls_this_month, last_call_at)
		VALUES ($1, 1, 1, $2)
		ON CONFLICT (key_digest) DO UPDATE SET
			calls_today = key_usage.calls_today + 1,
			calls_this_month = key_usage.calls_this_month + 1,
			last_call_at = EXCLUDED.last_call_at
		WHERE key_usage.calls_this_month < $3
		RETURNING calls_today, calls_this_month, last_call_at
	`

	snap, err := scanUsage(l.pool.QueryRow(ctx, query, key, l.now(), quota))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, err := l.Peek(ctx, key)
			return current, false, err
		}
		return model.UsageSnapshot{}, false, fmt.Errorf("failed to admit call: %w", err)
	}

	return snap, true, nil
}

// Reset zeroes the counter for period on every row.
func (l *UsageLedger) Reset(ctx context.Context, period model.Period) (int64, error) {
	var query string
	switch period {
	case model.PeriodDay:
		query = `UPDATE key_usage SET calls_today = 0`
	case model.PeriodMonth:
		query = `UPDATE key_usage SET calls_this_month = 0`
	default:
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownPeriod, period)
	}

	result, err := l.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}

	return result.RowsAffected(), nil
}

// scanUsage scans a single row into a UsageSnapshot.
func scanUsage(row pgx.Row) (model.UsageSnapshot, error) {
	var snap model.UsageSnapshot
	if err := row.Scan(&snap.CallsToday, &snap.CallsThisMonth, &snap.LastCallAt); err != nil {
		return model.UsageSnapshot{}, err
	}
	snap.LastCallAt = snap.LastCallAt.UTC()
	return snap, nil
}
