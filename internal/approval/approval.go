// Package approval is the durable ledger of human consent requests. A record
// is created when policy answers "needs approval" and is resolved exactly
// once, out-of-band, by someone visiting the consent page.
package approval

import (
	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/x402"
)

// Status is the lifecycle state of an approval record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Payload captures what triggered the approval request. It is shown verbatim
// on the consent page, so it carries everything a human needs to decide.
type Payload struct {
	Requirement x402.PaymentRequirement `json:"requirement"`
	Intent      x402.PaymentIntent      `json:"intent"`
	Reason      string                  `json:"reason"`
}

// Record is one approval request. Timestamps are unix seconds.
type Record struct {
	ID         string  `json:"id"`
	Status     Status  `json:"status"`
	Payload    Payload `json:"payload"`
	CreatedAt  int64   `json:"created_at"`
	ExpiresAt  int64   `json:"expires_at,omitempty"`
	ApprovedAt int64   `json:"approved_at,omitempty"`
	DeniedAt   int64   `json:"denied_at,omitempty"`
}

var (
	// ErrNotFound indicates the approval id is unknown to the ledger.
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "approval not found")
)
