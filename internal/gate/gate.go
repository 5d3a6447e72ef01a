// Package gate decides whether a request presenting an API key is admitted.
//
// For each credential the gate looks the key up, resolves the account's
// quota and then asks the ledger to check and record the call in one atomic
// step. Different keys never wait on each other; the same key is serialized
// only by the ledger's admit.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// Hasher maps a presented key to the digest stores are indexed by.
type Hasher interface {
	Digest(key string) string
}

// Gate composes the key store, the usage ledger and the plan quota table.
type Gate struct {
	keys    store.KeyStore
	ledger  store.Ledger
	hasher  Hasher
	metrics metrics.Recorder
}

// New creates a Gate. A nil recorder discards metrics.
func New(keys store.KeyStore, ledger store.Ledger, hasher Hasher, recorder metrics.Recorder) *Gate {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Gate{
		keys:    keys,
		ledger:  ledger,
		hasher:  hasher,
		metrics: recorder,
	}
}

// Admit runs the admission sequence for credential.
//
// It returns ErrMissingCredential, ErrInvalidCredential or a
// *QuotaExceededError for rejected requests. Any other error is a store
// failure and must be reported as an internal error.
func (g *Gate) Admit(ctx context.Context, credential string) (*model.Admission, error) {
	start := time.Now()
	adm, err := g.admit(ctx, credential)
	g.metrics.ObserveAdmissionDuration(time.Since(start))
	g.metrics.IncAdmission(outcome(err))
	return adm, err
}

func (g *Gate) admit(ctx context.Context, credential string) (*model.Admission, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	digest := g.hasher.Digest(credential)

	account, err := g.keys.Get(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("look up key: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidCredential
	}

	quota := account.Quota()

	usage, admitted, err := g.ledger.Admit(ctx, digest, quota)
	if err != nil {
		return nil, fmt.Errorf("admit call: %w", err)
	}
	if !admitted {
		return nil, &QuotaExceededError{Limit: quota, Usage: usage}
	}

	return &model.Admission{
		Key:     credential,
		Digest:  digest,
		Account: account,
		Usage:   usage,
	}, nil
}

// Usage returns the current counters for an admitted request's key.
func (g *Gate) Usage(ctx context.Context, adm *model.Admission) (model.UsageSnapshot, error) {
	snap, err := g.ledger.Peek(ctx, adm.Digest)
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("peek usage: %w", err)
	}
	return snap, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAdmitted
	case errors.Is(err, ErrMissingCredential):
		return metrics.OutcomeMissingCredential
	case errors.Is(err, ErrInvalidCredential):
		return metrics.OutcomeInvalidCredential
	case errors.Is(err, ErrQuotaExceeded):
		return metrics.OutcomeQuotaExceeded
	default:
		return metrics.OutcomeError
	}
}
