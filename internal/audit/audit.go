// Package audit defines the payment audit trail. The orchestrator emits one
// record per terminal outcome; sinks decide where those records go. Emission
// is best-effort: a failing sink never fails the payment call.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"AgentPay-Gate/internal/x402"
	"AgentPay-Gate/pkg/logger"
)

// Record is one immutable audit entry.
type Record struct {
	ID          string                   `json:"id"`
	Timestamp   int64                    `json:"timestamp"`
	Decision    string                   `json:"decision"`
	Reason      string                   `json:"reason,omitempty"`
	Requirement *x402.PaymentRequirement `json:"requirement,omitempty"`
	Intent      x402.PaymentIntent       `json:"intent"`
	PayerAddr   string                   `json:"payer_address,omitempty"`
	ApprovalID  string                   `json:"approval_id,omitempty"`
}

// NewRecord stamps an id and timestamp onto a record.
func NewRecord(decision, reason string) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Decision:  decision,
		Reason:    reason,
	}
}

// Sink receives audit records.
type Sink interface {
	Emit(ctx context.Context, record Record) error
	Close() error
}

// LogSink writes records to the process audit log channel.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink uses the global audit logger unless one is supplied.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = logger.Audit()
	}
	return &LogSink{log: log}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, record Record) error {
	attrs := []any{
		slog.String("audit_id", record.ID),
		slog.String("decision", record.Decision),
		slog.String("caller", record.Intent.Caller),
		slog.String("url", record.Intent.URL),
	}
	if record.Reason != "" {
		attrs = append(attrs, slog.String("reason", record.Reason))
	}
	if record.Requirement != nil {
		attrs = append(attrs,
			slog.String("network", record.Requirement.Network),
			slog.String("asset", record.Requirement.Asset),
			slog.String("amount", record.Requirement.MaxAmountRequired),
			slog.String("pay_to", record.Requirement.PayTo),
		)
	}
	if record.PayerAddr != "" {
		attrs = append(attrs, slog.String("payer", record.PayerAddr))
	}
	if record.ApprovalID != "" {
		attrs = append(attrs, slog.String("approval_id", record.ApprovalID))
	}
	s.log.Info("payment decision", attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error {
	return nil
}

var _ Sink = (*LogSink)(nil)
