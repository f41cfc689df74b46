// Package x402 implements the client side of the x402 "exact" payment
// scheme: decoding 402 challenges, selecting an acceptable requirement and
// producing the signed authorization envelope carried in the X-Payment
// header.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentPay-Gate/internal/errors"
)

const (
	// ProtocolVersion is the x402 protocol revision this client speaks.
	ProtocolVersion = 1

	// SchemeExact is the only payment scheme this client recognises.
	SchemeExact = "exact"

	// PaymentHeader carries the base64 encoded envelope on retried requests.
	PaymentHeader = "X-Payment"
)

// TokenMetadata carries the ERC-3009 signing-domain inputs a counterparty
// must supply alongside the asset address.
type TokenMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentRequirement is one accepted payment method from a 402 challenge.
// It arrives from outside and is never persisted.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int64          `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             *TokenMetadata `json:"extra,omitempty"`
}

// Validate checks the structural invariants of a requirement at the boundary
// so downstream code can rely on well-formed values.
func (r *PaymentRequirement) Validate() error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "requirement is nil")
	}
	if strings.TrimSpace(r.Network) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "requirement network is empty")
	}
	if !common.IsHexAddress(r.PayTo) {
		return xerrors.New(xerrors.CodeInvalidArgument, "payTo is not a valid address")
	}
	if !common.IsHexAddress(r.Asset) {
		return xerrors.New(xerrors.CodeInvalidArgument, "asset is not a valid address")
	}
	if _, ok := ParseAmount(r.MaxAmountRequired); !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "maxAmountRequired is not a decimal integer")
	}
	if _, err := url.Parse(r.Resource); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "resource is not a URL")
	}
	return nil
}

// ResourceHost returns the hostname of the resource URL, lowercased.
func (r *PaymentRequirement) ResourceHost() string {
	u, err := url.Parse(r.Resource)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// PaymentIntent is the caller-supplied context for a payment. It feeds policy
// evaluation and the audit trail and is never part of the signed payload.
type PaymentIntent struct {
	Reason        string `json:"reason"`
	Method        string `json:"method"`
	URL           string `json:"url"`
	Caller        string `json:"caller"`
	TraceID       string `json:"trace_id,omitempty"`
	PromptSummary string `json:"prompt_summary,omitempty"`
}

// Host returns the hostname of the intent URL, lowercased.
func (i PaymentIntent) Host() string {
	u, err := url.Parse(i.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Authorization is the canonical ERC-3009 transfer authorization. All
// numeric fields are decimal strings; Nonce is 0x-prefixed hex.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload pairs the authorization with its signature.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the versioned envelope transported in the X-Payment
// header after base64 encoding its JSON serialisation.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// EncodeHeader serialises the envelope for the X-Payment header.
func (p *PaymentPayload) EncodeHeader() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSigningFailure, err, "encode payment envelope")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment parses a header value back into an envelope.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "payment header is not base64")
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "payment header is not a valid envelope")
	}
	return &payload, nil
}

// ParseAmount parses a non-negative decimal atomic-unit amount. Amounts are
// always arbitrary precision; float parsing would corrupt large values.
func ParseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok || value.Sign() < 0 {
		return nil, false
	}
	return value, true
}
