package policy

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/x402"
)

// LoadFile reads a policy from YAML and validates its amount fields.
func LoadFile(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects policies whose amount fields are not decimal integers.
// Catching this at load time keeps Evaluate total.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.AutoApproveUnder) != "" {
		if _, ok := x402.ParseAmount(p.AutoApproveUnder); !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, "auto_approve_under is not a decimal integer")
		}
	}
	for origin, limit := range p.PerOriginLimits {
		if _, ok := x402.ParseAmount(limit); !ok {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("per-origin limit for %s is not a decimal integer", origin))
		}
	}
	return nil
}

// Holder owns the process-wide policy and serialises explicit updates. There
// is no hidden global; the orchestrator receives a Holder and threads it
// through.
type Holder struct {
	mu     sync.RWMutex
	policy *Policy
}

// NewHolder wraps an initial policy. A nil policy denies everything, since
// the network allow-list is empty.
func NewHolder(p *Policy) *Holder {
	if p == nil {
		p = &Policy{}
	}
	return &Holder{policy: p}
}

// Current returns the active policy.
func (h *Holder) Current() *Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

// Update swaps the active policy after validation.
func (h *Holder) Update(p *Policy) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "policy is nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
	return nil
}
