//go:build integration

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
	"github.com/epochapi/epochapi/internal/testutil"
)

func TestIntegrationLedger_RecordCallAndPeek(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	at := time.Date(2025, 6, 8, 8, 37, 43, 0, time.UTC)
	ledger := c.Ledger().WithClock(func() time.Time { return at })

	snap, err := ledger.Peek(ctx, "fresh")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if snap != (model.UsageSnapshot{}) {
		t.Errorf("Peek absent = %+v, want zero", snap)
	}

	for i := 0; i < 5; i++ {
		if err := ledger.RecordCall(ctx, "k"); err != nil {
			t.Fatalf("RecordCall failed: %v", err)
		}
	}

	snap, err = ledger.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if snap.CallsToday != 5 || snap.CallsThisMonth != 5 {
		t.Errorf("counters = %+v, want 5/5", snap)
	}
	if !snap.LastCallAt.Equal(at) {
		t.Errorf("LastCallAt = %v, want %v", snap.LastCallAt, at)
	}
}

func TestIntegrationLedger_Admit(t *testing.T) {
	ctx, c := newCacheTestEnv(t)
	ledger := c.Ledger()

	for i := 0; i < 2; i++ {
		_ = ledger.RecordCall(ctx, "k")
	}

	snap, ok, err := ledger.Admit(ctx, "k", 3)
	if err != nil || !ok {
		t.Fatalf("3rd call = %v, %v; want admitted", ok, err)
	}
	if snap.CallsThisMonth != 3 {
		t.Errorf("admitted snapshot = %d, want 3", snap.CallsThisMonth)
	}

	snap, ok, err = ledger.Admit(ctx, "k", 3)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if ok {
		t.Fatal("4th call at quota 3 should be rejected")
	}
	if snap.CallsThisMonth != 3 {
		t.Errorf("rejected snapshot = %d, want 3", snap.CallsThisMonth)
	}

	if _, ok, _ := ledger.Admit(ctx, "zero", 0); ok {
		t.Error("zero quota should reject")
	}
	if usageKeyExists(t, c, "zero") {
		t.Error("rejected admission should not create a usage hash")
	}
}

func TestIntegrationLedger_AdmitConcurrent(t *testing.T) {
	ctx, c := newCacheTestEnv(t)
	ledger := c.Ledger()

	const attempts = 50

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ledger.Admit(ctx, "shared", attempts)
			if err != nil {
				t.Errorf("Admit failed: %v", err)
				return
			}
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != attempts {
		t.Errorf("admitted = %d, want %d", admitted.Load(), attempts)
	}
	if _, ok, _ := ledger.Admit(ctx, "shared", attempts); ok {
		t.Error("attempt beyond quota should be rejected")
	}
}

func TestIntegrationLedger_Reset(t *testing.T) {
	ctx, c := newCacheTestEnv(t)
	ledger := c.Ledger()

	_ = ledger.RecordCall(ctx, "a")
	_ = ledger.RecordCall(ctx, "b")

	n, err := ledger.Reset(ctx, model.PeriodDay)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Reset touched %d, want 2", n)
	}

	snap, _ := ledger.Peek(ctx, "a")
	if snap.CallsToday != 0 || snap.CallsThisMonth != 1 {
		t.Errorf("after day reset = %+v", snap)
	}

	if _, err := ledger.Reset(ctx, "week"); !errors.Is(err, store.ErrUnknownPeriod) {
		t.Errorf("Reset week err = %v, want ErrUnknownPeriod", err)
	}
}

func TestIntegrationIPLimiter(t *testing.T) {
	ctx, c := newCacheTestEnv(t)
	limiter := c.IPLimiter()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}

	res, err := limiter.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("request beyond burst should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}

	if res, _ := limiter.Allow(ctx, "203.0.113.8"); !res.Allowed {
		t.Error("other IP should have its own bucket")
	}
}

func newCacheTestEnv(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, Config{
		URL:        redisURL,
		OpTimeout:  time.Second,
		IssueRPS:   0.1,
		IssueBurst: 2,
	})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return ctx, c
}

// usageKeyExists reports whether a usage hash exists for digest.
func usageKeyExists(t *testing.T, c *Cache, digest string) bool {
	t.Helper()

	n, err := c.client.Exists(context.Background(), usagePrefix+digest).Result()
	if err != nil {
		t.Fatalf("EXISTS failed: %v", err)
	}
	return n == 1
}
