// Package orchestrator sequences a payment authorization: key check,
// requirement selection, approval lookup, policy evaluation and signing.
// Each call runs to a terminal outcome; the approval wait is not modelled as
// blocking but as an idempotent re-entry carrying the approval id.
package orchestrator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"AgentPay-Gate/internal/approval"
	"AgentPay-Gate/internal/audit"
	"AgentPay-Gate/internal/chains"
	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/observability/alerting"
	"AgentPay-Gate/internal/policy"
	"AgentPay-Gate/internal/vault"
	"AgentPay-Gate/internal/x402"
	"AgentPay-Gate/pkg/logger"
)

// Status is the terminal state of an authorization call.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNeedsApproval Status = "needs_approval"
	StatusDenied        Status = "denied"
	StatusError         Status = "error"
)

// Options tunes a single authorization call.
type Options struct {
	// ApprovalID references a previously created approval record. An
	// approved record skips policy; a denied one is terminal.
	ApprovalID string

	// ForceApproval asks for a human check even when policy would allow.
	ForceApproval bool

	// ValidFor requests a validity window; the counterparty cap still wins.
	ValidFor time.Duration

	// Hints narrows requirement selection.
	Hints x402.SelectionHints

	// MandateID, when set, short-circuits signing: the outcome carries the
	// mandate reference for the caller to forward instead of an envelope.
	MandateID string
}

// Request is one authorization attempt against a 402 challenge.
type Request struct {
	Offers  []x402.PaymentRequirement
	Intent  x402.PaymentIntent
	Options Options
}

// Outcome is the closed set of results a caller must branch on. Policy
// denials and pending approvals are results, not errors.
type Outcome struct {
	Status        Status                   `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	ErrorCode     xerrors.Code             `json:"error_code,omitempty"`
	Requirement   *x402.PaymentRequirement `json:"requirement,omitempty"`
	PaymentHeader string                   `json:"payment_header,omitempty"`
	Payload       *x402.PaymentPayload     `json:"payload,omitempty"`
	PayerAddress  string                   `json:"payer_address,omitempty"`
	ApprovalID    string                   `json:"approval_id,omitempty"`
	ConsentURL    string                   `json:"consent_url,omitempty"`
	MandateID     string                   `json:"mandate_id,omitempty"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Vault          *vault.Vault
	Chains         *chains.Registry
	Policies       *policy.Holder
	Approvals      approval.Store
	AuditSink      audit.Sink
	Alerts         alerting.Dispatcher
	ConsentBaseURL string
}

// Orchestrator owns no global state; everything it touches arrives through
// Config.
type Orchestrator struct {
	vault          *vault.Vault
	chains         *chains.Registry
	policies       *policy.Holder
	approvals      approval.Store
	signer         *x402.Signer
	sink           audit.Sink
	alerts         alerting.Dispatcher
	consentBaseURL string
	log            *slog.Logger
}

// New builds an orchestrator. Vault, Policies and Approvals are required;
// the rest have workable defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Vault == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "orchestrator requires a vault")
	}
	if cfg.Policies == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "orchestrator requires a policy holder")
	}
	if cfg.Approvals == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "orchestrator requires an approval store")
	}
	registry := cfg.Chains
	if registry == nil {
		registry = chains.NewRegistry()
	}
	sink := cfg.AuditSink
	if sink == nil {
		sink = audit.NewLogSink(nil)
	}
	return &Orchestrator{
		vault:          cfg.Vault,
		chains:         registry,
		policies:       cfg.Policies,
		approvals:      cfg.Approvals,
		signer:         x402.NewSigner(cfg.Vault, registry),
		sink:           sink,
		alerts:         cfg.Alerts,
		consentBaseURL: cfg.ConsentBaseURL,
		log:            logger.Named("orchestrator"),
	}, nil
}

// Signer exposes the underlying signer, for tests that need a fixed clock.
func (o *Orchestrator) Signer() *x402.Signer {
	return o.signer
}

// Authorize runs the state machine for one payment.
func (o *Orchestrator) Authorize(ctx context.Context, req Request) Outcome {
	// Key check first: without a usable key nothing else matters.
	if _, err := o.vault.PrivateKey(); err != nil {
		return o.fail(ctx, req, nil, err)
	}

	selected, err := x402.SelectRequirement(req.Offers, req.Options.Hints, o.chains)
	if err != nil {
		return o.fail(ctx, req, nil, err)
	}

	// A referenced approval may settle the question without policy.
	if id := req.Options.ApprovalID; id != "" {
		record, err := o.approvals.Get(ctx, id)
		switch {
		case stdErrors.Is(err, approval.ErrNotFound):
			// Unknown reference: treat like no reference at all.
		case err != nil:
			return o.fail(ctx, req, selected, err)
		case record.Status == approval.StatusApproved:
			return o.sign(ctx, req, selected, id)
		case record.Status == approval.StatusDenied:
			outcome := Outcome{
				Status:      StatusDenied,
				Reason:      "user_denied",
				ErrorCode:   xerrors.CodeUserDenied,
				Requirement: selected,
				ApprovalID:  id,
			}
			o.emit(ctx, req, outcome)
			return outcome
		default:
			// Still pending: fall through to policy, same as no approval.
		}
	}

	decision := o.policies.Current().Evaluate(selected, req.Intent, policy.Options{
		ForceApproval: req.Options.ForceApproval,
	})

	switch {
	case decision.Allow:
		return o.sign(ctx, req, selected, "")
	case decision.NeedsApproval:
		record, err := o.approvals.Create(ctx, approval.Payload{
			Requirement: *selected,
			Intent:      req.Intent,
			Reason:      decision.Reason,
		})
		if err != nil {
			return o.fail(ctx, req, selected, err)
		}
		outcome := Outcome{
			Status:      StatusNeedsApproval,
			Reason:      decision.Reason,
			Requirement: selected,
			ApprovalID:  record.ID,
			ConsentURL:  o.consentURL(record.ID),
		}
		o.notifyPending(ctx, selected, outcome)
		o.emit(ctx, req, outcome)
		return outcome
	default:
		outcome := Outcome{
			Status:      StatusDenied,
			Reason:      decision.Reason,
			ErrorCode:   xerrors.CodePolicyDenied,
			Requirement: selected,
		}
		o.emit(ctx, req, outcome)
		return outcome
	}
}

func (o *Orchestrator) sign(ctx context.Context, req Request, selected *x402.PaymentRequirement, approvalID string) Outcome {
	// A mandate reference replaces the signed envelope entirely; budget
	// enforcement lives with the settlement backend that issued it.
	if req.Options.MandateID != "" {
		addr, err := o.vault.Address()
		if err != nil {
			return o.fail(ctx, req, selected, err)
		}
		outcome := Outcome{
			Status:       StatusOK,
			Requirement:  selected,
			PayerAddress: addr.Hex(),
			ApprovalID:   approvalID,
			MandateID:    req.Options.MandateID,
		}
		o.emit(ctx, req, outcome)
		return outcome
	}

	payload, err := o.signer.Sign(selected, req.Options.ValidFor)
	if err != nil {
		return o.fail(ctx, req, selected, err)
	}
	header, err := payload.EncodeHeader()
	if err != nil {
		return o.fail(ctx, req, selected, err)
	}

	outcome := Outcome{
		Status:        StatusOK,
		Requirement:   selected,
		PaymentHeader: header,
		Payload:       payload,
		PayerAddress:  payload.Payload.Authorization.From,
		ApprovalID:    approvalID,
	}
	o.emit(ctx, req, outcome)
	return outcome
}

func (o *Orchestrator) fail(ctx context.Context, req Request, selected *x402.PaymentRequirement, err error) Outcome {
	outcome := Outcome{
		Status:      StatusError,
		Reason:      err.Error(),
		ErrorCode:   xerrors.CodeOf(err),
		Requirement: selected,
	}
	o.emit(ctx, req, outcome)
	return outcome
}

// emit writes exactly one audit record per terminal outcome. Sink failures
// are logged and swallowed; audit is a side effect, not a correctness gate.
func (o *Orchestrator) emit(ctx context.Context, req Request, outcome Outcome) {
	decision := string(outcome.Status)
	if outcome.Status == StatusOK {
		decision = "signed"
	}
	record := audit.NewRecord(decision, outcome.Reason)
	record.Requirement = outcome.Requirement
	record.Intent = req.Intent
	record.PayerAddr = outcome.PayerAddress
	record.ApprovalID = outcome.ApprovalID
	if err := o.sink.Emit(ctx, record); err != nil {
		o.log.Warn("audit emission failed", slog.String("audit_id", record.ID), slog.Any("error", err))
	}
}

// notifyPending tells the configured channels a payment is waiting. Delivery
// failures are logged and swallowed, same as audit.
func (o *Orchestrator) notifyPending(ctx context.Context, selected *x402.PaymentRequirement, outcome Outcome) {
	if o.alerts == nil {
		return
	}
	event := alerting.Event{
		ApprovalID: outcome.ApprovalID,
		Resource:   selected.Resource,
		Amount:     selected.MaxAmountRequired,
		Asset:      selected.Asset,
		Network:    selected.Network,
		Reason:     outcome.Reason,
		ConsentURL: outcome.ConsentURL,
		OccurredAt: time.Now().UTC(),
	}
	if err := o.alerts.Notify(ctx, event); err != nil {
		o.log.Warn("consent notification failed", slog.String("approval_id", outcome.ApprovalID), slog.Any("error", err))
	}
}

func (o *Orchestrator) consentURL(id string) string {
	if o.consentBaseURL == "" {
		return fmt.Sprintf("/consents/%s", url.PathEscape(id))
	}
	return fmt.Sprintf("%s/consents/%s", o.consentBaseURL, url.PathEscape(id))
}
