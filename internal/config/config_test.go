package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentpay.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8402" {
		t.Fatalf("unexpected default address: %q", cfg.Server.Address)
	}
	if cfg.Approvals.Driver != "memory" {
		t.Fatalf("unexpected default approval driver: %q", cfg.Approvals.Driver)
	}
	if cfg.Audit.Sink != "log" {
		t.Fatalf("unexpected default audit sink: %q", cfg.Audit.Sink)
	}
	if got, want := cfg.Wallet.KeyFile, filepath.Join(dir, "data", "wallet.enc"); got != want {
		t.Fatalf("wallet key file %q, want %q", got, want)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentpay.json")
	body := `{
		"wallet": {"key_file": "keys/wallet.enc"},
		"policy": {"file": "policy.yaml"},
		"chains": {"file": "/etc/agentpay/chains.yaml"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := cfg.Wallet.KeyFile, filepath.Join(dir, "keys", "wallet.enc"); got != want {
		t.Fatalf("wallet key file %q, want %q", got, want)
	}
	if got, want := cfg.Policy.File, filepath.Join(dir, "policy.yaml"); got != want {
		t.Fatalf("policy file %q, want %q", got, want)
	}
	if cfg.Chains.File != "/etc/agentpay/chains.yaml" {
		t.Fatalf("absolute chains path was rewritten: %q", cfg.Chains.File)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
