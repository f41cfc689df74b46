package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code is a stable identifier for a class of failures. Codes cross the API
// boundary and end up in audit records, so they never change once shipped.
type Code string

// Severity describes how bad an error is, for alerting and audit purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes supplies default behaviour for an error code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeWalletNotConfigured Code = "WALLET_NOT_CONFIGURED"
	CodeWalletLocked        Code = "WALLET_LOCKED"
	CodeInvalidKeyFormat    Code = "INVALID_KEY_FORMAT"
	CodeUnlockFailed        Code = "UNLOCK_FAILED"
	CodeNoSupportedReq      Code = "NO_SUPPORTED_REQUIREMENT"
	CodeMissingTokenMeta    Code = "MISSING_TOKEN_METADATA"
	CodeUserDenied          Code = "USER_DENIED"
	CodePolicyDenied        Code = "POLICY_DENIED"
	CodeApprovalPending     Code = "APPROVAL_PENDING"
	CodeSigningFailure      Code = "SIGNING_FAILURE"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeConflict: {
			Message:  "resource conflict",
			Severity: SeverityWarning,
		},
		CodeWalletNotConfigured: {
			Message:  "no signing key configured",
			Severity: SeverityInfo,
		},
		CodeWalletLocked: {
			Message:  "signing key is locked",
			Severity: SeverityInfo,
		},
		CodeInvalidKeyFormat: {
			Message:  "private key does not match the expected format",
			Severity: SeverityInfo,
		},
		CodeUnlockFailed: {
			Message:  "wallet unlock failed",
			Severity: SeverityWarning,
		},
		CodeNoSupportedReq: {
			Message:  "no supported payment requirement",
			Severity: SeverityInfo,
		},
		CodeMissingTokenMeta: {
			Message:  "payment requirement lacks token name/version metadata",
			Severity: SeverityInfo,
		},
		CodeUserDenied: {
			Message:  "payment denied by user",
			Severity: SeverityInfo,
		},
		CodePolicyDenied: {
			Message:  "payment denied by policy",
			Severity: SeverityInfo,
		},
		CodeApprovalPending: {
			Message:  "approval is still pending",
			Severity: SeverityInfo,
		},
		CodeSigningFailure: {
			Message:   "failed to sign authorization",
			Severity:  SeverityCritical,
			Alert:     true,
			Retryable: true,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Alert:     true,
			Retryable: true,
		},
	}
)

// Register lets a module add attributes for a new code during initialisation.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes for a code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the unified error type used across the daemon.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option configures optional error fields.
type Option func(*Error)

// WithMetadata attaches an extra key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New builds an error with the given code. An empty message picks up the
// registered default for the code.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap attaches a cause to a new coded error.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches two coded errors by code so errors.Is works across instances.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the human readable message without the cause chain.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata, nil when empty.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From extracts the unified error type from an arbitrary error.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or UNKNOWN.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// ShouldAlert reports whether err warrants an operator alert.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Alert
	}
	return false
}

// SeverityOf returns the severity of err for logging purposes.
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Severity
	}
	return AttributesOf(CodeUnknown).Severity
}
