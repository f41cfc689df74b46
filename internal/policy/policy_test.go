package policy

import (
	"os"
	"path/filepath"
	"testing"

	"AgentPay-Gate/internal/x402"
)

const (
	usdcAddr = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	payee    = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

func basePolicy() *Policy {
	return &Policy{
		AllowedNetworks: []string{"base", "base-sepolia"},
		AllowedAssets: map[string][]string{
			"base": {usdcAddr},
		},
		AutoApproveUnder: "10000",
	}
}

func requirement() *x402.PaymentRequirement {
	return &x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "5000",
		Resource:          "https://api.x.com/data",
		PayTo:             payee,
		MaxTimeoutSeconds: 300,
		Asset:             usdcAddr,
		Extra:             &x402.TokenMetadata{Name: "USD Coin", Version: "2"},
	}
}

func intentFor(url string) x402.PaymentIntent {
	return x402.PaymentIntent{Reason: "fetch data", Method: "GET", URL: url, Caller: "agent-1"}
}

func TestAllowUnderThreshold(t *testing.T) {
	p := basePolicy()
	d := p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if !d.Allow || d.NeedsApproval {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestDenyRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*x402.PaymentRequirement)
		reason string
	}{
		{"scheme", func(r *x402.PaymentRequirement) { r.Scheme = "upto" }, ReasonUnsupportedScheme},
		{"network", func(r *x402.PaymentRequirement) { r.Network = "solana" }, ReasonUnsupportedNetwork},
		{"asset", func(r *x402.PaymentRequirement) { r.Asset = payee }, ReasonUnsupportedAsset},
		{"amount", func(r *x402.PaymentRequirement) { r.MaxAmountRequired = "5.5" }, ReasonInvalidAmount},
	}
	p := basePolicy()
	for _, tc := range cases {
		req := requirement()
		tc.mutate(req)
		d := p.Evaluate(req, intentFor("https://api.x.com/data"), Options{})
		if d.Allow || d.NeedsApproval || d.Reason != tc.reason {
			t.Fatalf("%s: got %+v, want deny %s", tc.name, d, tc.reason)
		}
	}
}

func TestAssetListIsCaseInsensitive(t *testing.T) {
	p := basePolicy()
	req := requirement()
	req.Asset = "0x833589FCD6EDB6E08F4C7C32D4F71B54BDA02913"
	d := p.Evaluate(req, intentFor("https://api.x.com/data"), Options{})
	if !d.Allow {
		t.Fatalf("asset comparison must ignore case, got %+v", d)
	}
}

func TestOriginMismatchBeatsAmount(t *testing.T) {
	p := basePolicy()
	req := requirement()
	req.MaxAmountRequired = "1" // trivially small; origin still wins
	d := p.Evaluate(req, intentFor("https://other.example.com/page"), Options{})
	if d.Allow || d.Reason != ReasonOriginMismatch {
		t.Fatalf("expected origin_mismatch, got %+v", d)
	}
}

func TestOverPerTxLimitNeedsApproval(t *testing.T) {
	p := basePolicy()
	p.PerOriginLimits = map[string]string{"api.x.com": "1000"}
	d := p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if !d.NeedsApproval || d.Reason != ReasonOverPerTxLimit {
		t.Fatalf("expected over_per_tx_limit, got %+v", d)
	}

	// At or under the limit the rule does not fire.
	p.PerOriginLimits["api.x.com"] = "5000"
	d = p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if !d.Allow {
		t.Fatalf("amount equal to the limit should pass, got %+v", d)
	}
}

func TestUnknownOriginNeedsApproval(t *testing.T) {
	p := basePolicy()
	p.AutoApproveUnder = "1000"
	p.UnknownOriginNeedsApproval = true
	d := p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if d.Allow || !d.NeedsApproval || d.Reason != ReasonUnknownOrigin {
		t.Fatalf("expected unknown_origin, got %+v", d)
	}

	// A configured limit makes the origin known, so the rule is skipped.
	p.PerOriginLimits = map[string]string{"api.x.com": "1000000"}
	d = p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if !d.Allow {
		t.Fatalf("known origin within limit should allow, got %+v", d)
	}
}

func TestForcedApproval(t *testing.T) {
	p := basePolicy()
	d := p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{ForceApproval: true})
	if !d.NeedsApproval || d.Reason != ReasonUserForced {
		t.Fatalf("expected user_forced_approval, got %+v", d)
	}
}

func TestDefaultPermitOverThreshold(t *testing.T) {
	p := basePolicy()
	p.AutoApproveUnder = "1000"
	d := p.Evaluate(requirement(), intentFor("https://api.x.com/data"), Options{})
	if !d.Allow || d.Reason != "" {
		t.Fatalf("expected default permit, got %+v", d)
	}
}

func TestBigAmountsCompareAsIntegers(t *testing.T) {
	p := basePolicy()
	p.AutoApproveUnder = "10000000000000000000000000000"
	req := requirement()
	req.MaxAmountRequired = "9999999999999999999999999999"
	d := p.Evaluate(req, intentFor("https://api.x.com/data"), Options{})
	if !d.Allow || d.Reason != ReasonUnderThreshold {
		t.Fatalf("big-int comparison failed: %+v", d)
	}
}

func TestLoadFileAndUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte(`allowed_networks: [base]
allowed_assets:
  base:
    - "` + usdcAddr + `"
per_origin_limits:
  api.x.com: "250000"
unknown_origin_needs_approval: true
auto_approve_under: "10000"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if !p.UnknownOriginNeedsApproval || p.PerOriginLimits["api.x.com"] != "250000" {
		t.Fatalf("unexpected policy: %+v", p)
	}

	holder := NewHolder(p)
	if err := holder.Update(&Policy{AutoApproveUnder: "not a number"}); err == nil {
		t.Fatalf("update must reject malformed amounts")
	}
	if holder.Current() != p {
		t.Fatalf("rejected update must not swap the policy")
	}
}
