// Package store defines the storage contracts for accounts and usage counters.
//
// Every implementation is keyed by the API key digest produced by
// auth.KeyHasher; plaintext keys never reach a store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/epochapi/epochapi/internal/model"
)

// ErrUnknownPeriod is returned by Ledger.Reset for an unrecognized period.
var ErrUnknownPeriod = errors.New("unknown usage period")

// KeyStore maps key digests to immutable accounts.
type KeyStore interface {
	// Put inserts or overwrites the account stored for key.
	Put(ctx context.Context, key string, account *model.Account) error
	// Get returns the account for key, or nil, nil when there is none.
	Get(ctx context.Context, key string) (*model.Account, error)
}

// Ledger maps key digests to usage counters.
type Ledger interface {
	// RecordCall increments both counters and stamps the call time,
	// creating a zero record first if needed.
	RecordCall(ctx context.Context, key string) error

	// Peek returns the counters without mutating them.
	// Unknown keys yield the zero snapshot.
	Peek(ctx context.Context, key string) (model.UsageSnapshot, error)

	// IsUnderQuota reports whether the monthly counter is below quota.
	IsUnderQuota(ctx context.Context, key string, quota int64) (bool, error)

	// Admit checks the quota and records the call as one atomic step per key.
	// When admitted it returns the snapshot after the increment, otherwise
	// the unchanged snapshot and false.
	Admit(ctx context.Context, key string, quota int64) (model.UsageSnapshot, bool, error)

	// Reset zeroes the counter for period on every record and returns
	// the number of records touched.
	Reset(ctx context.Context, period model.Period) (int64, error)
}

// Clock returns the current time. Stores take one so tests can pin call times.
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}
