package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"AgentPay-Gate/internal/approval"
	"AgentPay-Gate/internal/audit"
	"AgentPay-Gate/internal/chains"
	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/observability/alerting"
	"AgentPay-Gate/internal/policy"
	"AgentPay-Gate/internal/vault"
	"AgentPay-Gate/internal/x402"
)

const (
	testKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	usdcAddr = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	payee    = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

// captureSink records every emitted audit record.
type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureSink) Emit(_ context.Context, record audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) last(t *testing.T) audit.Record {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		t.Fatalf("no audit records emitted")
	}
	return c.records[len(c.records)-1]
}

type fixture struct {
	orch  *Orchestrator
	vault *vault.Vault
	store *approval.MemoryStore
	sink  *captureSink
}

func newFixture(t *testing.T, p *policy.Policy, loadKey bool) *fixture {
	t.Helper()
	v := vault.New(filepath.Join(t.TempDir(), "wallet.enc"))
	if loadKey {
		if err := v.Load(testKey, ""); err != nil {
			t.Fatalf("load key: %v", err)
		}
	}
	store := approval.NewMemoryStore()
	sink := &captureSink{}
	orch, err := New(Config{
		Vault:          v,
		Chains:         chains.NewRegistry(),
		Policies:       policy.NewHolder(p),
		Approvals:      store,
		AuditSink:      sink,
		ConsentBaseURL: "http://localhost:8402",
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &fixture{orch: orch, vault: v, store: store, sink: sink}
}

func permissivePolicy() *policy.Policy {
	return &policy.Policy{
		AllowedNetworks:  []string{"base"},
		AllowedAssets:    map[string][]string{"base": {usdcAddr}},
		AutoApproveUnder: "10000",
	}
}

func askingPolicy() *policy.Policy {
	p := permissivePolicy()
	p.AutoApproveUnder = "1000"
	p.UnknownOriginNeedsApproval = true
	return p
}

func offers() []x402.PaymentRequirement {
	return []x402.PaymentRequirement{{
		Scheme:            x402.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "5000",
		Resource:          "https://api.x.com/data",
		PayTo:             payee,
		MaxTimeoutSeconds: 300,
		Asset:             usdcAddr,
		Extra:             &x402.TokenMetadata{Name: "USD Coin", Version: "2"},
	}}
}

func request() Request {
	return Request{
		Offers: offers(),
		Intent: x402.PaymentIntent{Reason: "fetch data", Method: "GET", URL: "https://api.x.com/data", Caller: "agent-1"},
	}
}

func TestAuthorizeSignsWhenPolicyAllows(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	outcome := f.orch.Authorize(context.Background(), request())
	if outcome.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", outcome)
	}
	if outcome.PaymentHeader == "" || outcome.Payload == nil {
		t.Fatalf("ok outcome must carry the envelope")
	}

	decoded, err := x402.DecodePayment(outcome.PaymentHeader)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if decoded.Scheme != x402.SchemeExact {
		t.Fatalf("decoded scheme: %s", decoded.Scheme)
	}

	record := f.sink.last(t)
	if record.Decision != "signed" || record.PayerAddr == "" {
		t.Fatalf("unexpected audit record: %+v", record)
	}
}

func TestAuthorizeWithoutKey(t *testing.T) {
	f := newFixture(t, permissivePolicy(), false)

	outcome := f.orch.Authorize(context.Background(), request())
	if outcome.Status != StatusError || outcome.ErrorCode != xerrors.CodeWalletNotConfigured {
		t.Fatalf("expected wallet_not_configured error, got %+v", outcome)
	}
	if record := f.sink.last(t); record.Decision != "error" {
		t.Fatalf("key failures must still audit: %+v", record)
	}
}

func TestAuthorizeLockedVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.enc")
	seeded := vault.New(path)
	if err := seeded.Load(testKey, "pass"); err != nil {
		t.Fatalf("persist key: %v", err)
	}

	// Fresh vault over the same file: the key exists on disk but is locked.
	locked := vault.New(path)
	sink := &captureSink{}
	orch, err := New(Config{
		Vault:     locked,
		Policies:  policy.NewHolder(permissivePolicy()),
		Approvals: approval.NewMemoryStore(),
		AuditSink: sink,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcome := orch.Authorize(context.Background(), request())
	if outcome.Status != StatusError || outcome.ErrorCode != xerrors.CodeWalletLocked {
		t.Fatalf("expected wallet_locked error, got %+v", outcome)
	}
}

func TestAuthorizeNoSupportedRequirement(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	req := request()
	req.Offers[0].Scheme = "upto"
	outcome := f.orch.Authorize(context.Background(), req)
	if outcome.Status != StatusError || outcome.ErrorCode != xerrors.CodeNoSupportedReq {
		t.Fatalf("expected no_supported_requirement, got %+v", outcome)
	}
}

func TestAuthorizeNeedsApprovalThenReentry(t *testing.T) {
	f := newFixture(t, askingPolicy(), true)
	ctx := context.Background()

	first := f.orch.Authorize(ctx, request())
	if first.Status != StatusNeedsApproval || first.Reason != policy.ReasonUnknownOrigin {
		t.Fatalf("expected needs_approval/unknown_origin, got %+v", first)
	}
	if first.ApprovalID == "" || first.ConsentURL != "http://localhost:8402/consents/"+first.ApprovalID {
		t.Fatalf("outcome must carry the approval reference: %+v", first)
	}

	// Re-entry while still pending behaves exactly like the first call.
	again := request()
	again.Options.ApprovalID = first.ApprovalID
	pending := f.orch.Authorize(ctx, again)
	if pending.Status != StatusNeedsApproval {
		t.Fatalf("pending approval must fall through to policy, got %+v", pending)
	}

	// The human approves out-of-band; the same re-entry now signs.
	if _, err := f.store.Approve(ctx, first.ApprovalID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	signed := f.orch.Authorize(ctx, again)
	if signed.Status != StatusOK {
		t.Fatalf("approved re-entry should sign, got %+v", signed)
	}
	if signed.ApprovalID != first.ApprovalID {
		t.Fatalf("outcome should reference the consumed approval")
	}
}

func TestAuthorizeDeniedApproval(t *testing.T) {
	f := newFixture(t, askingPolicy(), true)
	ctx := context.Background()

	first := f.orch.Authorize(ctx, request())
	if _, err := f.store.Deny(ctx, first.ApprovalID); err != nil {
		t.Fatalf("deny: %v", err)
	}

	again := request()
	again.Options.ApprovalID = first.ApprovalID
	outcome := f.orch.Authorize(ctx, again)
	if outcome.Status != StatusDenied || outcome.ErrorCode != xerrors.CodeUserDenied {
		t.Fatalf("expected user denial, got %+v", outcome)
	}
}

func TestAuthorizeUnknownApprovalIDFallsThrough(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	req := request()
	req.Options.ApprovalID = "never-created"
	outcome := f.orch.Authorize(context.Background(), req)
	if outcome.Status != StatusOK {
		t.Fatalf("unknown approval reference should not block an allowed payment, got %+v", outcome)
	}
}

func TestAuthorizePolicyDenial(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	req := request()
	req.Intent.URL = "https://elsewhere.example.com/page"
	outcome := f.orch.Authorize(context.Background(), req)
	if outcome.Status != StatusDenied || outcome.Reason != policy.ReasonOriginMismatch {
		t.Fatalf("expected origin_mismatch denial, got %+v", outcome)
	}
	if record := f.sink.last(t); record.Decision != "denied" || record.Reason != policy.ReasonOriginMismatch {
		t.Fatalf("unexpected audit record: %+v", record)
	}
}

func TestAuthorizeForcedApproval(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	req := request()
	req.Options.ForceApproval = true
	outcome := f.orch.Authorize(context.Background(), req)
	if outcome.Status != StatusNeedsApproval || outcome.Reason != policy.ReasonUserForced {
		t.Fatalf("expected user_forced_approval, got %+v", outcome)
	}
}

func TestAuthorizeMandateReference(t *testing.T) {
	f := newFixture(t, permissivePolicy(), true)

	req := request()
	req.Options.MandateID = "mandate-123"
	outcome := f.orch.Authorize(context.Background(), req)
	if outcome.Status != StatusOK || outcome.MandateID != "mandate-123" {
		t.Fatalf("expected mandate outcome, got %+v", outcome)
	}
	if outcome.PaymentHeader != "" || outcome.Payload != nil {
		t.Fatalf("mandate outcomes must not carry a signed envelope")
	}
	if outcome.PayerAddress == "" {
		t.Fatalf("mandate outcomes still report the payer address")
	}
}

func TestEveryTerminalEmitsOneAuditRecord(t *testing.T) {
	f := newFixture(t, askingPolicy(), true)
	ctx := context.Background()

	calls := 0
	run := func(mutate func(*Request)) {
		req := request()
		if mutate != nil {
			mutate(&req)
		}
		f.orch.Authorize(ctx, req)
		calls++
	}
	run(nil)                                                 // needs approval
	run(func(r *Request) { r.Offers[0].Scheme = "upto" })    // selection error
	run(func(r *Request) { r.Intent.URL = "https://a.b/c" }) // denial

	f.sink.mu.Lock()
	got := len(f.sink.records)
	f.sink.mu.Unlock()
	if got != calls {
		t.Fatalf("expected %d audit records, got %d", calls, got)
	}
}

// captureDispatcher records consent notifications.
type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestPendingApprovalNotifiesChannels(t *testing.T) {
	v := vault.New(filepath.Join(t.TempDir(), "wallet.enc"))
	if err := v.Load(testKey, ""); err != nil {
		t.Fatalf("load key: %v", err)
	}
	dispatcher := &captureDispatcher{}
	orch, err := New(Config{
		Vault:          v,
		Chains:         chains.NewRegistry(),
		Policies:       policy.NewHolder(askingPolicy()),
		Approvals:      approval.NewMemoryStore(),
		AuditSink:      &captureSink{},
		Alerts:         dispatcher,
		ConsentBaseURL: "http://localhost:8402",
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcome := orch.Authorize(context.Background(), request())
	if outcome.Status != StatusNeedsApproval {
		t.Fatalf("expected needs_approval, got %+v", outcome)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.ApprovalID != outcome.ApprovalID {
		t.Fatalf("notification approval id %q != outcome %q", event.ApprovalID, outcome.ApprovalID)
	}
	if event.ConsentURL != outcome.ConsentURL {
		t.Fatalf("notification consent url %q != outcome %q", event.ConsentURL, outcome.ConsentURL)
	}
	if event.Amount != "5000" || event.Network != "base" {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}
