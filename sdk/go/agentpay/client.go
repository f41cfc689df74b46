package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentPay Gate REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// PaymentRequirement mirrors one offer from a 402 challenge.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int64          `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             *TokenMetadata `json:"extra,omitempty"`
}

// TokenMetadata carries the EIP-712 domain fields of the payment token.
type TokenMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentIntent describes why the agent is paying and which call triggered
// the charge.
type PaymentIntent struct {
	Reason        string `json:"reason"`
	Method        string `json:"method"`
	URL           string `json:"url"`
	Caller        string `json:"caller"`
	TraceID       string `json:"trace_id,omitempty"`
	PromptSummary string `json:"prompt_summary,omitempty"`
}

// AuthorizeOptions tune a single authorization call.
type AuthorizeOptions struct {
	ApprovalID      string `json:"approval_id,omitempty"`
	ForceApproval   bool   `json:"force_approval,omitempty"`
	ValidForSeconds int64  `json:"valid_for_seconds,omitempty"`
	MandateID       string `json:"mandate_id,omitempty"`
	Index           *int   `json:"index,omitempty"`
	Network         string `json:"network,omitempty"`
	Asset           string `json:"asset,omitempty"`
}

// Outcome is the daemon's answer to an authorization request. Status is one
// of ok, denied, needs_approval or error.
type Outcome struct {
	Status        string              `json:"status"`
	Reason        string              `json:"reason,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	Requirement   *PaymentRequirement `json:"requirement,omitempty"`
	PaymentHeader string              `json:"payment_header,omitempty"`
	PayerAddress  string              `json:"payer_address,omitempty"`
	ApprovalID    string              `json:"approval_id,omitempty"`
	ConsentURL    string              `json:"consent_url,omitempty"`
	MandateID     string              `json:"mandate_id,omitempty"`
}

// WalletStatus reports key availability without exposing material.
type WalletStatus struct {
	Exists   bool   `json:"exists"`
	Unlocked bool   `json:"unlocked"`
	Address  string `json:"address,omitempty"`
}

// PaymentRequired is the JSON body a resource server attaches to an HTTP 402
// response.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentpay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentpay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentPay Gate API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// ParsePaymentRequired decodes the body of a 402 response into offers that
// can be handed straight to Authorize.
func ParsePaymentRequired(body io.Reader) (PaymentRequired, error) {
	var challenge PaymentRequired
	if err := json.NewDecoder(body).Decode(&challenge); err != nil {
		return PaymentRequired{}, fmt.Errorf("decode 402 challenge: %w", err)
	}
	return challenge, nil
}

// Authorize asks the daemon to evaluate and, when allowed, sign a payment
// for one of the offered requirements.
func (c *Client) Authorize(ctx context.Context, offers []PaymentRequirement, intent PaymentIntent, opts *AuthorizeOptions) (Outcome, error) {
	payload := struct {
		Offers  []PaymentRequirement `json:"offers"`
		Intent  PaymentIntent        `json:"intent"`
		Options *AuthorizeOptions    `json:"options,omitempty"`
	}{Offers: offers, Intent: intent, Options: opts}

	var outcome Outcome
	if err := c.post(ctx, "/api/v1/payments/authorize", payload, &outcome); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// WalletStatus fetches the current key availability.
func (c *Client) WalletStatus(ctx context.Context) (WalletStatus, error) {
	var status WalletStatus
	if err := c.get(ctx, "/api/v1/wallet/status", &status); err != nil {
		return WalletStatus{}, err
	}
	return status, nil
}

// LoadKey installs a signing key. A non-empty passphrase additionally
// persists it encrypted on the daemon's disk.
func (c *Client) LoadKey(ctx context.Context, privateKey, passphrase string) (WalletStatus, error) {
	payload := struct {
		PrivateKey string `json:"private_key"`
		Passphrase string `json:"passphrase,omitempty"`
	}{PrivateKey: privateKey, Passphrase: passphrase}

	var status WalletStatus
	if err := c.post(ctx, "/api/v1/wallet/load", payload, &status); err != nil {
		return WalletStatus{}, err
	}
	return status, nil
}

// UnlockWallet decrypts the persisted key into daemon memory.
func (c *Client) UnlockWallet(ctx context.Context, passphrase string) (WalletStatus, error) {
	payload := struct {
		Passphrase string `json:"passphrase"`
	}{Passphrase: passphrase}

	var status WalletStatus
	if err := c.post(ctx, "/api/v1/wallet/unlock", payload, &status); err != nil {
		return WalletStatus{}, err
	}
	return status, nil
}

// ClearWallet wipes the daemon's key from memory and disk.
func (c *Client) ClearWallet(ctx context.Context) (WalletStatus, error) {
	var status WalletStatus
	if err := c.post(ctx, "/api/v1/wallet/clear", struct{}{}, &status); err != nil {
		return WalletStatus{}, err
	}
	return status, nil
}

// UpdatePolicy replaces the active spending policy. The document uses the
// same shape as the daemon's policy YAML, expressed as JSON.
func (c *Client) UpdatePolicy(ctx context.Context, policy json.RawMessage) error {
	return c.put(ctx, "/api/v1/policy", policy, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	return c.send(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any, out any) error {
	return c.send(ctx, http.MethodPut, endpoint, payload, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
