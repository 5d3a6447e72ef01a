package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/epochapi/epochapi/internal/model"
)

// CachedKeyStore keeps recently used accounts in process memory in front
// of a slower KeyStore. Accounts never change after issuance, so an entry
// can only go stale by expiring. Misses are not cached: a key issued on
// another instance becomes visible on the next lookup.
type CachedKeyStore struct {
	next  KeyStore
	cache *cache.Cache
}

// NewCachedKeyStore wraps next with a TTL cache.
func NewCachedKeyStore(next KeyStore, ttl time.Duration) *CachedKeyStore {
	return &CachedKeyStore{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Put writes through to the underlying store and caches the account on success.
func (s *CachedKeyStore) Put(ctx context.Context, key string, account *model.Account) error {
	if err := s.next.Put(ctx, key, account); err != nil {
		return err
	}
	cp := *account
	s.cache.Set(key, &cp, cache.DefaultExpiration)
	return nil
}

// Get serves from the cache, falling back to the underlying store.
func (s *CachedKeyStore) Get(ctx context.Context, key string) (*model.Account, error) {
	if v, found := s.cache.Get(key); found {
		if account, ok := v.(*model.Account); ok {
			cp := *account
			return &cp, nil
		}
		s.cache.Delete(key)
	}

	account, err := s.next.Get(ctx, key)
	if err != nil || account == nil {
		return account, err
	}

	cp := *account
	s.cache.Set(key, &cp, cache.DefaultExpiration)
	return account, nil
}

// Len returns the number of cached accounts, including expired ones not yet evicted.
func (s *CachedKeyStore) Len() int {
	return s.cache.ItemCount()
}
