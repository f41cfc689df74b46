package vault

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"
)

// Well-known anvil dev key; never used outside tests.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// fastKDF keeps scrypt cheap in tests.
var fastKDF = ScryptKDF{N: 1 << 4, R: 8, P: 1}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "wallet.enc"), WithKDF(fastKDF))
}

func TestLoadRejectsMalformedKeys(t *testing.T) {
	v := newTestVault(t)

	bad := []string{
		"",
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		"0xzz0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		"0xac09",
	}
	for _, key := range bad {
		if err := v.Load(key, ""); !stdErrors.Is(err, ErrInvalidKeyFormat) {
			t.Fatalf("key %q: expected ErrInvalidKeyFormat, got %v", key, err)
		}
	}
	if st := v.Status(); st.Exists {
		t.Fatalf("failed loads must not leave a key behind: %+v", st)
	}
}

func TestLoadWithoutPassphraseStaysInMemory(t *testing.T) {
	v := newTestVault(t)
	if err := v.Load(testKey, ""); err != nil {
		t.Fatalf("load: %v", err)
	}

	st := v.Status()
	if !st.Exists || !st.Unlocked {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Address == "" {
		t.Fatalf("status should carry the derived address")
	}
	if _, err := os.Stat(v.path); !os.IsNotExist(err) {
		t.Fatalf("no blob should be persisted without a passphrase")
	}
}

func TestUnlockRoundTrip(t *testing.T) {
	v := newTestVault(t)
	if err := v.Load(testKey, "correct horse"); err != nil {
		t.Fatalf("load: %v", err)
	}
	addr, err := v.Address()
	if err != nil {
		t.Fatalf("address: %v", err)
	}

	blob, err := os.ReadFile(v.path)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if len(blob) <= saltSize+nonceSize {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}
	if string(blob) == testKey || len(blob) == len(testKey) {
		t.Fatalf("plaintext key must never reach disk")
	}

	// Fresh vault over the same file simulates a process restart.
	restarted := New(v.path, WithKDF(fastKDF))
	if st := restarted.Status(); !st.Exists || st.Unlocked {
		t.Fatalf("restarted vault should be locked: %+v", st)
	}
	if _, err := restarted.PrivateKey(); !stdErrors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := restarted.Unlock("correct horse"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	got, err := restarted.Address()
	if err != nil {
		t.Fatalf("address after unlock: %v", err)
	}
	if got != addr {
		t.Fatalf("address mismatch after unlock: %s vs %s", got, addr)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	v := newTestVault(t)
	if err := v.Load(testKey, "right"); err != nil {
		t.Fatalf("load: %v", err)
	}

	restarted := New(v.path, WithKDF(fastKDF))
	if err := restarted.Unlock("wrong"); !stdErrors.Is(err, ErrUnlockFailed) {
		t.Fatalf("expected ErrUnlockFailed, got %v", err)
	}
	if st := restarted.Status(); st.Unlocked {
		t.Fatalf("failed unlock must leave the in-memory key unset")
	}
}

func TestUnlockCorruptBlob(t *testing.T) {
	v := newTestVault(t)
	if err := v.Load(testKey, "pass"); err != nil {
		t.Fatalf("load: %v", err)
	}

	blob, err := os.ReadFile(v.path)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if err := os.WriteFile(v.path, blob, 0o600); err != nil {
		t.Fatalf("write corrupt blob: %v", err)
	}

	restarted := New(v.path, WithKDF(fastKDF))
	if err := restarted.Unlock("pass"); !stdErrors.Is(err, ErrUnlockFailed) {
		t.Fatalf("expected ErrUnlockFailed for corrupt blob, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	v := newTestVault(t)
	if err := v.Load(testKey, "pass"); err != nil {
		t.Fatalf("load: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := v.Clear(); err != nil {
			t.Fatalf("clear #%d: %v", i+1, err)
		}
	}
	if st := v.Status(); st.Exists || st.Unlocked {
		t.Fatalf("vault should be empty after clear: %+v", st)
	}
	if _, err := v.PrivateKey(); !stdErrors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
