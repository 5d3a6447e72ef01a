package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_Format(t *testing.T) {
	t.Parallel()

	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if len(key) != KeyLength {
		t.Errorf("Key should be %d chars, got: %d", KeyLength, len(key))
	}

	for i, r := range key {
		if !strings.ContainsRune(KeyAlphabet, r) {
			t.Errorf("Key char %d (%q) is outside the alphabet", i, r)
		}
	}

	if !ValidateKeyFormat(key) {
		t.Errorf("ValidateKeyFormat(%q) = false for a generated key", key)
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	t.Parallel()

	const numKeys = 10000
	keys := make(map[string]bool, numKeys)

	for i := 0; i < numKeys; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}

		if keys[key] {
			t.Fatalf("Duplicate key found at iteration %d", i)
		}
		keys[key] = true
	}
}

func TestGenerateAPIKey_UsesWholeAlphabet(t *testing.T) {
	t.Parallel()

	seen := make(map[rune]bool, len(KeyAlphabet))
	for i := 0; i < 200; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		for _, r := range key {
			seen[r] = true
		}
	}

	// 8600 draws over 64 symbols: missing one is vanishingly unlikely.
	if len(seen) != len(KeyAlphabet) {
		t.Errorf("Expected all %d symbols to appear, saw %d", len(KeyAlphabet), len(seen))
	}
}

func TestKeyAlphabet(t *testing.T) {
	t.Parallel()

	if len(KeyAlphabet) != 64 {
		t.Fatalf("KeyAlphabet should have 64 symbols, got %d", len(KeyAlphabet))
	}

	seen := make(map[rune]bool)
	for _, r := range KeyAlphabet {
		if seen[r] {
			t.Errorf("Duplicate symbol %q in alphabet", r)
		}
		seen[r] = true
	}
}

func TestValidateKeyFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid key", "Qm3v_0r7ZkYd-2LwXbN8pTfA1sHcJ9eGuRiV5oKyM4n", true},
		{"all dashes", strings.Repeat("-", KeyLength), true},
		{"too short", "Qm3v_0r7ZkYd", false},
		{"too long", strings.Repeat("a", KeyLength+1), false},
		{"invalid symbol", strings.Repeat("a", KeyLength-1) + "+", false},
		{"space", strings.Repeat("a", KeyLength-1) + " ", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ValidateKeyFormat(tt.key)
			if got != tt.want {
				t.Errorf("ValidateKeyFormat(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
