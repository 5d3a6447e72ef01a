// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// Service errors.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidPlan  = errors.New("invalid plan")
)

const maxKeyRetries = 3

// Hasher maps a plaintext key to the digest stores are indexed by.
type Hasher interface {
	Digest(key string) string
}

// IssuedKey is the result of a successful issuance.
// Key is the only copy of the plaintext credential.
type IssuedKey struct {
	Key     string
	Account *model.Account
}

// KeyIssuer creates API keys and their account records.
type KeyIssuer struct {
	keys    store.KeyStore
	hasher  Hasher
	metrics metrics.Recorder
	now     func() time.Time
	genKey  func() (string, error)
}

// NewKeyIssuer creates a KeyIssuer. A nil recorder discards metrics.
func NewKeyIssuer(keys store.KeyStore, hasher Hasher, recorder metrics.Recorder) *KeyIssuer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &KeyIssuer{
		keys:    keys,
		hasher:  hasher,
		metrics: recorder,
		now:     func() time.Time { return time.Now().UTC() },
		genKey:  auth.GenerateAPIKey,
	}
}

// Issue creates a key for email on plan.
//
// An empty plan means starter. Unknown plans are rejected with
// ErrInvalidPlan rather than silently downgraded; the quota captured on
// the account comes from model.QuotaFor at issuance time.
func (s *KeyIssuer) Issue(ctx context.Context, email, plan string) (*IssuedKey, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	plan = strings.TrimSpace(plan)
	if plan == "" {
		plan = model.PlanStarter
	}
	if !model.IsValidPlan(plan) {
		return nil, fmt.Errorf("%w: %q must be one of %s", ErrInvalidPlan, plan, strings.Join(model.ValidPlans, ", "))
	}

	key, digest, err := s.generateUniqueKey(ctx)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		ID:        ulid.Make().String(),
		Email:     email,
		Plan:      plan,
		RateLimit: model.QuotaFor(plan),
		CreatedAt: s.now(),
	}

	if err := s.keys.Put(ctx, digest, account); err != nil {
		return nil, fmt.Errorf("store account: %w", err)
	}

	s.metrics.IncKeyIssued(plan)
	return &IssuedKey{Key: key, Account: account}, nil
}

// generateUniqueKey generates a key whose digest is not yet stored.
func (s *KeyIssuer) generateUniqueKey(ctx context.Context) (string, string, error) {
	for i := 0; i < maxKeyRetries; i++ {
		key, err := s.genKey()
		if err != nil {
			return "", "", err
		}
		digest := s.hasher.Digest(key)

		existing, err := s.keys.Get(ctx, digest)
		if err != nil {
			return "", "", fmt.Errorf("check key collision: %w", err)
		}
		if existing == nil {
			return key, digest, nil
		}
	}
	return "", "", errors.New("failed to generate unique key after retries")
}
