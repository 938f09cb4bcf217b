// Package x402 holds the wire types of the HTTP 402 payment protocol and the
// base64 JSON header codec shared by the gate and its clients.
package x402

import "encoding/json"

// Protocol versions. Version is what the gate emits; VersionLegacy payloads
// arrive on X-PAYMENT and are relayed to the facilitator as v1.
const (
	Version       = 2
	VersionLegacy = 1
)

// Header names. V1 clients send X-PAYMENT and read X-PAYMENT-RESPONSE.
const (
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"

	HeaderLegacyPayment         = "X-PAYMENT"
	HeaderLegacyPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements describes what a client must pay for one resource.
// Network is a CAIP-2 identifier ("eip155:10143"); Amount is in base units.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Amount            string         `json:"amount,omitempty"`
	MaxAmountRequired string         `json:"maxAmountRequired,omitempty"`
	Asset             string         `json:"asset"`
	PayTo             string         `json:"payTo"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ForVersion returns r shaped for protocol version v. V1 carries the amount
// as maxAmountRequired.
func (r *PaymentRequirements) ForVersion(v int) *PaymentRequirements {
	if v != VersionLegacy {
		return r
	}
	out := *r
	out.MaxAmountRequired, out.Amount = r.Amount, ""
	return &out
}

// PaymentRequired is the 402 body and the decoded PAYMENT-REQUIRED header.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is what a client sends in PAYMENT-SIGNATURE. Payload is
// scheme-specific and kept raw so it can be forwarded verbatim.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Scheme      string               `json:"scheme,omitempty"`
	Network     string               `json:"network,omitempty"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Payload     json.RawMessage      `json:"payload"`
}

// DeclaredScheme returns the scheme the client claims to pay with, from the
// accepted requirements (v2) or the top-level field (v1).
func (p *PaymentPayload) DeclaredScheme() string {
	if p.Accepted != nil && p.Accepted.Scheme != "" {
		return p.Accepted.Scheme
	}
	return p.Scheme
}

// DeclaredNetwork mirrors DeclaredScheme for the network.
func (p *PaymentPayload) DeclaredNetwork() string {
	if p.Accepted != nil && p.Accepted.Network != "" {
		return p.Accepted.Network
	}
	return p.Network
}

// PaymentResponse is sent in PAYMENT-RESPONSE after settlement.
type PaymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}
