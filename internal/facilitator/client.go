// Package facilitator talks to the external x402 facilitator that verifies
// and settles on-chain payments.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

// Request is the body of POST /verify and POST /settle.
type Request struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      json.RawMessage           `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

type SupportedKind struct {
	X402Version int    `json:"x402Version,omitempty"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// StatusError is returned when the facilitator answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("facilitator %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client is a facilitator REST client. Every call is bounded by timeout in
// addition to the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("facilitator %s: read body: %w", path, err)
	}
	// Facilitators answer rejected verifications with 400 and a regular
	// verify/settle body; decode those instead of failing.
	if resp.StatusCode >= 300 && !(resp.StatusCode == http.StatusBadRequest && decodesAs(raw, out)) {
		return &StatusError{Op: path, Status: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("facilitator %s: decode response: %w", path, err)
	}
	return nil
}

// newRequest relays payload under the version it was signed for; v1
// payloads get v1-shaped requirements.
func newRequest(payload json.RawMessage, req *x402.PaymentRequirements) Request {
	var head struct {
		X402Version int `json:"x402Version"`
	}
	_ = json.Unmarshal(payload, &head)
	v := x402.Version
	if head.X402Version == x402.VersionLegacy {
		v = x402.VersionLegacy
	}
	return Request{X402Version: v, PaymentPayload: payload, PaymentRequirements: req.ForVersion(v)}
}

// Verify asks the facilitator whether payload satisfies requirements.
func (c *Client) Verify(ctx context.Context, payload json.RawMessage, req *x402.PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	body := newRequest(payload, req)
	if err := c.do(ctx, http.MethodPost, "/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to execute the payment on-chain.
func (c *Client) Settle(ctx context.Context, payload json.RawMessage, req *x402.PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	body := newRequest(payload, req)
	if err := c.do(ctx, http.MethodPost, "/settle", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported lists the scheme/network pairs the facilitator can settle.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	var out SupportedResponse
	if err := c.do(ctx, http.MethodGet, "/supported", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BaseURL returns the configured facilitator URL.
func (c *Client) BaseURL() string { return c.baseURL }

// decodesAs reports whether raw is a verify/settle body carrying a reason.
func decodesAs(raw []byte, out any) bool {
	var probe struct {
		InvalidReason string `json:"invalidReason"`
		ErrorReason   string `json:"errorReason"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return false
	}
	switch out.(type) {
	case *VerifyResponse:
		return probe.InvalidReason != ""
	case *SettleResponse:
		return probe.ErrorReason != ""
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
