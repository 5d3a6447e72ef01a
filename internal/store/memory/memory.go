// Package memory provides the in-process KeyStore and Ledger.
//
// Both are split into shards, each guarded by its own mutex, so operations
// on different keys rarely contend while the quota check and increment for
// a single key run under one lock.
package memory

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// DefaultShards is the shard count used by NewKeyStore and NewLedger.
const DefaultShards = 32

func shardIndex(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

type accountShard struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
}

// KeyStore is a sharded in-memory store.KeyStore.
type KeyStore struct {
	shards []*accountShard
}

var _ store.KeyStore = (*KeyStore)(nil)

// NewKeyStore creates an empty KeyStore with DefaultShards shards.
func NewKeyStore() *KeyStore {
	return NewKeyStoreWithShards(DefaultShards)
}

// NewKeyStoreWithShards creates an empty KeyStore with n shards (minimum 1).
func NewKeyStoreWithShards(n int) *KeyStore {
	n = max(n, 1)
	shards := make([]*accountShard, n)
	for i := range shards {
		shards[i] = &accountShard{accounts: make(map[string]*model.Account)}
	}
	return &KeyStore{shards: shards}
}

func (s *KeyStore) shard(key string) *accountShard {
	return s.shards[shardIndex(key, len(s.shards))]
}

// Put stores a copy of account. It never fails.
func (s *KeyStore) Put(_ context.Context, key string, account *model.Account) error {
	stored := *account
	sh := s.shard(key)
	sh.mu.Lock()
	sh.accounts[key] = &stored
	sh.mu.Unlock()
	return nil
}

// Get returns a copy of the stored account, or nil when absent.
func (s *KeyStore) Get(_ context.Context, key string) (*model.Account, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	account, ok := sh.accounts[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	out := *account
	return &out, nil
}

// Len returns the number of stored accounts.
func (s *KeyStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.accounts)
		sh.mu.RUnlock()
	}
	return n
}
