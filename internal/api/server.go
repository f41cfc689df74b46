package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"AgentPay-Gate/internal/approval"
	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/observability/metrics"
	"AgentPay-Gate/internal/orchestrator"
	"AgentPay-Gate/internal/policy"
	"AgentPay-Gate/internal/vault"
	"AgentPay-Gate/internal/x402"
	"AgentPay-Gate/pkg/logger"
)

// Server hosts the REST endpoints and consent pages.
type Server struct {
	addr      string
	orch      *orchestrator.Orchestrator
	vault     *vault.Vault
	approvals approval.Store
	policies  *policy.Holder
	apiToken  string
	log       *slog.Logger
}

// Option customises server construction.
type Option func(*Server)

// WithAPIToken requires a static bearer token on the JSON API routes.
func WithAPIToken(token string) Option {
	return func(s *Server) {
		s.apiToken = token
	}
}

// NewServer wires the HTTP surface to the core components.
func NewServer(addr string, orch *orchestrator.Orchestrator, v *vault.Vault, approvals approval.Store, policies *policy.Holder, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		orch:      orch,
		vault:     v,
		approvals: approvals,
		policies:  policies,
		log:       logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/payments/authorize", s.guard(s.handleAuthorize))

	mux.Handle("GET /api/v1/wallet/status", s.guard(s.handleWalletStatus))
	mux.Handle("POST /api/v1/wallet/load", s.guard(s.handleWalletLoad))
	mux.Handle("POST /api/v1/wallet/unlock", s.guard(s.handleWalletUnlock))
	mux.Handle("POST /api/v1/wallet/clear", s.guard(s.handleWalletClear))

	mux.Handle("PUT /api/v1/policy", s.guard(s.handlePolicyUpdate))

	mux.HandleFunc("GET /consents", s.handleConsentList)
	mux.HandleFunc("GET /consents/{id}", s.handleConsentShow)
	mux.HandleFunc("POST /consents/{id}/approve", s.handleConsentApprove)
	mux.HandleFunc("POST /consents/{id}/deny", s.handleConsentDeny)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(mux)
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// authorizeRequest is the wire form of an authorization call.
type authorizeRequest struct {
	Offers  []x402.PaymentRequirement `json:"offers"`
	Intent  x402.PaymentIntent        `json:"intent"`
	Options struct {
		ApprovalID      string `json:"approval_id,omitempty"`
		ForceApproval   bool   `json:"force_approval,omitempty"`
		ValidForSeconds int64  `json:"valid_for_seconds,omitempty"`
		MandateID       string `json:"mandate_id,omitempty"`
		Index           *int   `json:"index,omitempty"`
		Network         string `json:"network,omitempty"`
		Asset           string `json:"asset,omitempty"`
	} `json:"options"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Offers) == 0 {
		writeError(w, http.StatusBadRequest, "offers must not be empty")
		return
	}

	outcome := s.orch.Authorize(r.Context(), orchestrator.Request{
		Offers: req.Offers,
		Intent: req.Intent,
		Options: orchestrator.Options{
			ApprovalID:    req.Options.ApprovalID,
			ForceApproval: req.Options.ForceApproval,
			ValidFor:      time.Duration(req.Options.ValidForSeconds) * time.Second,
			MandateID:     req.Options.MandateID,
			Hints: x402.SelectionHints{
				Index:   req.Options.Index,
				Network: req.Options.Network,
				Asset:   req.Options.Asset,
			},
		},
	})
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handleWalletLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"private_key"`
		Passphrase string `json:"passphrase,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.vault.Load(req.PrivateKey, req.Passphrase); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handleWalletUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.vault.Unlock(req.Passphrase); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handleWalletClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.vault.Clear(); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed policy")
		return
	}
	if err := s.policies.Update(&p); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.policies.Current())
}

func (s *Server) handleConsentList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.approvals.ListPending(r.Context(), limit)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

var consentPage = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Payment approval</title></head>
<body>
  <h1>Payment approval request</h1>
  <p>Status: <strong>{{.Status}}</strong></p>
  <table>
    <tr><td>Amount (atomic units)</td><td>{{.Payload.Requirement.MaxAmountRequired}}</td></tr>
    <tr><td>Network</td><td>{{.Payload.Requirement.Network}}</td></tr>
    <tr><td>Asset</td><td>{{.Payload.Requirement.Asset}}</td></tr>
    <tr><td>Pay to</td><td>{{.Payload.Requirement.PayTo}}</td></tr>
    <tr><td>Resource</td><td>{{.Payload.Requirement.Resource}}</td></tr>
    <tr><td>Requested by</td><td>{{.Payload.Intent.Caller}}</td></tr>
    <tr><td>Justification</td><td>{{.Payload.Intent.Reason}}</td></tr>
    <tr><td>Policy reason</td><td>{{.Payload.Reason}}</td></tr>
  </table>
  {{if eq .Status "pending"}}
  <form method="POST" action="/consents/{{.ID}}/approve"><button type="submit">Approve</button></form>
  <form method="POST" action="/consents/{{.ID}}/deny"><button type="submit">Deny</button></form>
  {{end}}
</body>
</html>
`))

func (s *Server) handleConsentShow(w http.ResponseWriter, r *http.Request) {
	record, err := s.approvals.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentPage.Execute(w, record); err != nil {
		s.log.Error("render consent page", slog.Any("error", err))
	}
}

func (s *Server) handleConsentApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveConsent(w, r, s.approvals.Approve)
}

func (s *Server) handleConsentDeny(w http.ResponseWriter, r *http.Request) {
	s.resolveConsent(w, r, s.approvals.Deny)
}

func (s *Server) resolveConsent(w http.ResponseWriter, r *http.Request, resolve func(context.Context, string) (*approval.Record, error)) {
	record, err := resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCodedError maps unified error codes onto HTTP statuses.
func writeCodedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidKeyFormat:
		status = http.StatusBadRequest
	case xerrors.CodeUnlockFailed, xerrors.CodeWalletLocked:
		status = http.StatusForbidden
	case xerrors.CodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(xerrors.CodeOf(err))})
}
