package x402

import (
	"strings"

	"AgentPay-Gate/internal/chains"
	xerrors "AgentPay-Gate/internal/errors"
)

// ErrNoSupportedRequirement indicates none of the offered payment methods can
// be satisfied by this client. This is a hard stop, not a policy decision.
var ErrNoSupportedRequirement = xerrors.New(xerrors.CodeNoSupportedReq, "")

// SelectionHints narrows requirement selection. A nil Index means "scan in
// offer order"; the other fields, when set, must match exactly.
type SelectionHints struct {
	Index   *int
	Scheme  string
	Network string
	Asset   string
}

// SelectRequirement picks the first offer with the exact scheme, a network
// resolvable to a chain id, and matching the hints when given.
func SelectRequirement(offers []PaymentRequirement, hints SelectionHints, registry *chains.Registry) (*PaymentRequirement, error) {
	if registry == nil {
		registry = chains.NewRegistry()
	}

	if hints.Index != nil {
		i := *hints.Index
		if i < 0 || i >= len(offers) {
			return nil, ErrNoSupportedRequirement
		}
		offer := offers[i]
		if !supported(&offer, hints, registry) {
			return nil, ErrNoSupportedRequirement
		}
		return &offer, nil
	}

	for i := range offers {
		offer := offers[i]
		if supported(&offer, hints, registry) {
			return &offer, nil
		}
	}
	return nil, ErrNoSupportedRequirement
}

func supported(offer *PaymentRequirement, hints SelectionHints, registry *chains.Registry) bool {
	if offer.Scheme != SchemeExact {
		return false
	}
	if !registry.Known(offer.Network) {
		return false
	}
	if hints.Scheme != "" && offer.Scheme != hints.Scheme {
		return false
	}
	if hints.Network != "" && !strings.EqualFold(offer.Network, hints.Network) {
		return false
	}
	if hints.Asset != "" && !strings.EqualFold(offer.Asset, hints.Asset) {
		return false
	}
	return offer.Validate() == nil
}
