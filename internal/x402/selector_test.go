package x402

import (
	stdErrors "errors"
	"testing"

	"AgentPay-Gate/internal/chains"
)

const (
	usdcBase    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	payeeAddr   = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	resourceURL = "https://api.example.com/data"
)

func offer(network, asset string) PaymentRequirement {
	return PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           network,
		MaxAmountRequired: "5000",
		Resource:          resourceURL,
		PayTo:             payeeAddr,
		MaxTimeoutSeconds: 300,
		Asset:             asset,
		Extra:             &TokenMetadata{Name: "USD Coin", Version: "2"},
	}
}

func TestSelectFirstSupported(t *testing.T) {
	offers := []PaymentRequirement{
		{Scheme: "upto", Network: "base"},
		offer("solana", usdcBase),
		offer("base", usdcBase),
	}

	got, err := SelectRequirement(offers, SelectionHints{}, chains.NewRegistry())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Network != "base" {
		t.Fatalf("expected the base offer, got %s", got.Network)
	}
}

func TestSelectHonoursHints(t *testing.T) {
	offers := []PaymentRequirement{
		offer("base", usdcBase),
		offer("polygon", usdcBase),
	}

	got, err := SelectRequirement(offers, SelectionHints{Network: "polygon"}, chains.NewRegistry())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Network != "polygon" {
		t.Fatalf("network hint ignored: got %s", got.Network)
	}

	if _, err := SelectRequirement(offers, SelectionHints{Asset: payeeAddr}, chains.NewRegistry()); !stdErrors.Is(err, ErrNoSupportedRequirement) {
		t.Fatalf("unmatched asset hint should fail, got %v", err)
	}
}

func TestSelectExplicitIndex(t *testing.T) {
	offers := []PaymentRequirement{
		offer("base", usdcBase),
		offer("polygon", usdcBase),
	}

	idx := 1
	got, err := SelectRequirement(offers, SelectionHints{Index: &idx}, chains.NewRegistry())
	if err != nil {
		t.Fatalf("select by index: %v", err)
	}
	if got.Network != "polygon" {
		t.Fatalf("index selection picked %s", got.Network)
	}

	// An index pointing at an unsupported offer still fails.
	bad := []PaymentRequirement{{Scheme: "upto", Network: "base"}}
	zero := 0
	if _, err := SelectRequirement(bad, SelectionHints{Index: &zero}, chains.NewRegistry()); !stdErrors.Is(err, ErrNoSupportedRequirement) {
		t.Fatalf("expected ErrNoSupportedRequirement, got %v", err)
	}

	oob := 5
	if _, err := SelectRequirement(offers, SelectionHints{Index: &oob}, chains.NewRegistry()); !stdErrors.Is(err, ErrNoSupportedRequirement) {
		t.Fatalf("out-of-range index should fail, got %v", err)
	}
}

func TestSelectNoneSupported(t *testing.T) {
	offers := []PaymentRequirement{
		{Scheme: "upto", Network: "base"},
		offer("solana", usdcBase),
	}
	if _, err := SelectRequirement(offers, SelectionHints{}, chains.NewRegistry()); !stdErrors.Is(err, ErrNoSupportedRequirement) {
		t.Fatalf("expected ErrNoSupportedRequirement, got %v", err)
	}
}
