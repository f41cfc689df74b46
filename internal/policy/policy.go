// Package policy decides whether a payment can proceed unattended, needs a
// human in the loop, or must be refused. Evaluation is a pure function over
// the requirement, the caller's intent and the loaded policy; the rule order
// is fixed and the first matching rule wins.
package policy

import (
	"math/big"
	"strings"

	"AgentPay-Gate/internal/x402"
)

// Decision reasons, stable across releases; they appear in audit records and
// consent pages.
const (
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonUnsupportedNetwork = "unsupported_network"
	ReasonUnsupportedAsset   = "unsupported_asset"
	ReasonOriginMismatch     = "origin_mismatch"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonOverPerTxLimit     = "over_per_tx_limit"
	ReasonUnknownOrigin      = "unknown_origin"
	ReasonUserForced         = "user_forced_approval"
	ReasonUnderThreshold     = "under_auto_approve_threshold"
)

// Policy is the declarative spending policy. Amount fields are decimal
// strings in atomic units; comparisons are arbitrary precision.
type Policy struct {
	AllowedNetworks            []string            `yaml:"allowed_networks" json:"allowed_networks"`
	AllowedAssets              map[string][]string `yaml:"allowed_assets" json:"allowed_assets"`
	PerOriginLimits            map[string]string   `yaml:"per_origin_limits" json:"per_origin_limits"`
	UnknownOriginNeedsApproval bool                `yaml:"unknown_origin_needs_approval" json:"unknown_origin_needs_approval"`
	AutoApproveUnder           string              `yaml:"auto_approve_under" json:"auto_approve_under"`
}

// Options carries per-call evaluation modifiers.
type Options struct {
	ForceApproval bool
}

// Decision is the evaluation outcome. Allow and NeedsApproval are mutually
// exclusive; Reason explains every non-trivial outcome.
type Decision struct {
	Allow         bool   `json:"allow"`
	NeedsApproval bool   `json:"needs_approval,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

func ask(reason string) Decision {
	return Decision{NeedsApproval: true, Reason: reason}
}

// Evaluate runs the fixed rule chain over one requirement.
func (p *Policy) Evaluate(req *x402.PaymentRequirement, intent x402.PaymentIntent, opts Options) Decision {
	if req == nil {
		return deny(ReasonUnsupportedScheme)
	}

	// 1. Scheme.
	if req.Scheme != x402.SchemeExact {
		return deny(ReasonUnsupportedScheme)
	}

	// 2. Network allow-list.
	if !p.networkAllowed(req.Network) {
		return deny(ReasonUnsupportedNetwork)
	}

	// 3. Asset allow-list for that network.
	if !p.assetAllowed(req.Network, req.Asset) {
		return deny(ReasonUnsupportedAsset)
	}

	// 4. The resource being paid for and the URL being acted on must share a
	// host. Defends against signing a payment for one destination while
	// acting on another.
	resourceHost := req.ResourceHost()
	if resourceHost == "" || resourceHost != intent.Host() {
		return deny(ReasonOriginMismatch)
	}

	amount, ok := x402.ParseAmount(req.MaxAmountRequired)
	if !ok {
		return deny(ReasonInvalidAmount)
	}

	// 5/6. Per-origin limit, or the unknown-origin rule when none is set.
	if limit, configured := p.originLimit(resourceHost); configured {
		if amount.Cmp(limit) > 0 {
			return ask(ReasonOverPerTxLimit)
		}
	} else if p.UnknownOriginNeedsApproval {
		return ask(ReasonUnknownOrigin)
	}

	// 7. Caller opted into a human check.
	if opts.ForceApproval {
		return ask(ReasonUserForced)
	}

	// 8. Auto-approve threshold.
	if threshold, ok := x402.ParseAmount(p.AutoApproveUnder); ok && amount.Cmp(threshold) <= 0 {
		return Decision{Allow: true, Reason: ReasonUnderThreshold}
	}

	// 9. Default permit once every allow-list and origin check passed.
	return Decision{Allow: true}
}

func (p *Policy) networkAllowed(network string) bool {
	for _, allowed := range p.AllowedNetworks {
		if strings.EqualFold(allowed, network) {
			return true
		}
	}
	return false
}

func (p *Policy) assetAllowed(network, asset string) bool {
	assets, ok := p.lookupAssets(network)
	if !ok {
		return false
	}
	for _, allowed := range assets {
		if strings.EqualFold(allowed, asset) {
			return true
		}
	}
	return false
}

func (p *Policy) lookupAssets(network string) ([]string, bool) {
	if assets, ok := p.AllowedAssets[network]; ok {
		return assets, true
	}
	for name, assets := range p.AllowedAssets {
		if strings.EqualFold(name, network) {
			return assets, true
		}
	}
	return nil, false
}

func (p *Policy) originLimit(host string) (*big.Int, bool) {
	raw, ok := p.PerOriginLimits[host]
	if !ok {
		for name, value := range p.PerOriginLimits {
			if strings.EqualFold(name, host) {
				raw, ok = value, true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}
	limit, parsed := x402.ParseAmount(raw)
	if !parsed {
		return nil, false
	}
	return limit, true
}
