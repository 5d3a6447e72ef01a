package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/epochapi/epochapi/internal/model"
)

func TestKeyHasher_Deterministic(t *testing.T) {
	t.Parallel()

	h, err := NewKeyHasher([]byte("pepper"))
	if err != nil {
		t.Fatalf("NewKeyHasher failed: %v", err)
	}

	key := "Qm3v_0r7ZkYd-2LwXbN8pTfA1sHcJ9eGuRiV5oKyM4n"
	d1 := h.Digest(key)
	d2 := h.Digest(key)

	if d1 != d2 {
		t.Error("Same key should produce same digest")
	}
	if len(d1) != 64 {
		t.Errorf("Digest length = %d, want 64", len(d1))
	}
	if strings.Contains(d1, key) {
		t.Error("Digest should not contain the plaintext key")
	}
}

func TestKeyHasher_SecretChangesDigest(t *testing.T) {
	t.Parallel()

	a, err := NewKeyHasher([]byte("secret-a"))
	if err != nil {
		t.Fatalf("NewKeyHasher failed: %v", err)
	}
	b, err := NewKeyHasher([]byte("secret-b"))
	if err != nil {
		t.Fatalf("NewKeyHasher failed: %v", err)
	}
	plain, err := NewKeyHasher(nil)
	if err != nil {
		t.Fatalf("NewKeyHasher(nil) failed: %v", err)
	}

	key := "some-key"
	digests := []string{a.Digest(key), b.Digest(key), plain.Digest(key)}
	for i := range digests {
		for j := i + 1; j < len(digests); j++ {
			if digests[i] == digests[j] {
				t.Errorf("digest %d and %d should differ", i, j)
			}
		}
	}
}

func TestKeyHasher_DifferentKeys(t *testing.T) {
	t.Parallel()

	h, err := NewKeyHasher(nil)
	if err != nil {
		t.Fatalf("NewKeyHasher failed: %v", err)
	}

	if h.Digest("key-one") == h.Digest("key-two") {
		t.Error("Different keys should produce different digests")
	}
}

func TestNewKeyHasher_SecretTooLong(t *testing.T) {
	t.Parallel()

	if _, err := NewKeyHasher(bytes.Repeat([]byte("x"), 65)); err == nil {
		t.Fatal("expected error for 65 byte secret")
	}
}

func TestShortDigest(t *testing.T) {
	t.Parallel()

	if got := ShortDigest("abcdef0123456789"); got != "abcdef012345" {
		t.Errorf("ShortDigest = %q, want abcdef012345", got)
	}
	if got := ShortDigest("abc"); got != "abc" {
		t.Errorf("ShortDigest(short) = %q, want abc", got)
	}
}

func TestAdmissionContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if AdmissionFromContext(ctx) != nil {
		t.Fatal("empty context should have no admission")
	}
	if AccountIDFromContext(ctx) != "" {
		t.Fatal("empty context should have no account ID")
	}

	adm := &model.Admission{Digest: "d", Account: &model.Account{ID: "acct_1"}}
	ctx = ContextWithAdmission(ctx, adm)

	if got := AdmissionFromContext(ctx); got != adm {
		t.Errorf("AdmissionFromContext = %v, want %v", got, adm)
	}
	if got := AccountIDFromContext(ctx); got != "acct_1" {
		t.Errorf("AccountIDFromContext = %q, want acct_1", got)
	}
}

func TestMustAdmissionFromContext_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic without admission")
		}
	}()
	MustAdmissionFromContext(context.Background())
}
