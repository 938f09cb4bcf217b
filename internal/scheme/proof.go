package scheme

import (
	"encoding/json"
	"fmt"

	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

// Proof is either *OnChainProof or *RedemptionProof.
type Proof interface {
	Kind() Kind
	// Network is the network the proof declares, empty when it declares none.
	Network() string
	isProof()
}

// OnChainProof is an x402 payment payload. Raw is the decoded header JSON,
// forwarded to the facilitator byte for byte.
type OnChainProof struct {
	Payment *x402.PaymentPayload
	Raw     json.RawMessage
}

// ParseOnChainProof decodes a PAYMENT-SIGNATURE / X-PAYMENT header.
func ParseOnChainProof(header string) (*OnChainProof, error) {
	var raw json.RawMessage
	if err := x402.DecodeHeader(header, &raw); err != nil {
		return nil, err
	}
	p, err := x402.ParsePayment(header)
	if err != nil {
		return nil, err
	}
	return &OnChainProof{Payment: p, Raw: raw}, nil
}

func (p *OnChainProof) Kind() Kind { return Kind(p.Payment.DeclaredScheme()) }

func (p *OnChainProof) Network() string { return p.Payment.DeclaredNetwork() }

func (*OnChainProof) isProof() {}

// RedemptionProof is the revealed commitment/nullifier/secret triple. Each
// field is 32 bytes as 64 hex characters, optionally 0x-prefixed.
type RedemptionProof struct {
	Commitment string `json:"commitment"`
	Nullifier  string `json:"nullifier"`
	Secret     string `json:"secret"`
}

func (*RedemptionProof) Kind() Kind { return KindCommitment }

func (*RedemptionProof) Network() string { return "" }

func (*RedemptionProof) isProof() {}

// String never prints the secret.
func (p *RedemptionProof) String() string {
	return fmt.Sprintf("redemption{nullifier=%s}", ShortNullifier(p.Nullifier))
}

// ShortNullifier returns a log-safe prefix of a nullifier.
func ShortNullifier(n string) string {
	n = normalizeHex(n)
	if len(n) > 10 {
		return n[:10]
	}
	return n
}
