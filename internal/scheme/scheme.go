// Package scheme verifies payment proofs. Two schemes exist: Exact delegates
// on-chain payments to the facilitator, Redemption checks commitment/nullifier
// tokens locally. A non-nil error from Verify is an infrastructure fault; a
// rejected proof is a Result with Accepted == false.
package scheme

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-x402-gate/internal/money"
	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

type Kind string

const (
	KindExact      Kind = "exact"
	KindCommitment Kind = "commitment"
)

// Rejection reasons produced locally. Facilitator reasons are passed through
// as received.
const (
	ReasonMissingField       = "MissingField"
	ReasonCommitmentMismatch = "CommitmentMismatch"
	ReasonNullifierReplay    = "NullifierReplay"
	ReasonUnsupportedNetwork = "UnsupportedNetwork"
	ReasonSchemeMismatch     = "SchemeMismatch"
	ReasonVerifyFailed       = "verify_failed"
	ReasonSettleFailed       = "settle_failed"
)

var (
	// ErrFacilitator wraps transport errors, timeouts and non-2xx answers
	// from the facilitator.
	ErrFacilitator = errors.New("facilitator error")
	// ErrInternal covers store failures and misrouted proofs.
	ErrInternal = errors.New("internal error")
	// ErrNoScheme is returned by Registry.Resolve.
	ErrNoScheme = errors.New("no scheme for kind and network")
)

// Scheme is one verification strategy.
type Scheme interface {
	Kind() Kind
	Supports(network string) bool
	Verify(ctx context.Context, req *Requirement, proof Proof) (*Result, error)
}

// Requirement is what one protected resource charges. It is built once at
// start and never mutated.
type Requirement struct {
	ResourceID  string
	Network     string
	PayTo       common.Address
	Price       string
	Scheme      Kind
	Description string
	MimeType    string
	MaxTimeout  time.Duration
	Encoded     money.EncodedPrice
}

// NewRequirement encodes price through codec. An unregistered network fails
// with money.ErrUnsupportedNetwork.
func NewRequirement(codec *money.Codec, resourceID, network string, payTo common.Address, price string, kind Kind) (*Requirement, error) {
	enc, err := codec.Encode(price, network)
	if err != nil {
		return nil, fmt.Errorf("encode price for %s: %w", resourceID, err)
	}
	return &Requirement{
		ResourceID: resourceID,
		Network:    network,
		PayTo:      payTo,
		Price:      price,
		Scheme:     kind,
		MimeType:   "application/json",
		MaxTimeout: 60 * time.Second,
		Encoded:    enc,
	}, nil
}

// PaymentRequirements is the wire form sent in challenges and to the
// facilitator.
func (r *Requirement) PaymentRequirements() *x402.PaymentRequirements {
	return &x402.PaymentRequirements{
		Scheme:            string(r.Scheme),
		Network:           r.Network,
		Amount:            r.Encoded.AmountString(),
		Asset:             r.Encoded.Asset.Hex(),
		PayTo:             r.PayTo.Hex(),
		Resource:          r.ResourceID,
		Description:       r.Description,
		MimeType:          r.MimeType,
		MaxTimeoutSeconds: int(r.MaxTimeout / time.Second),
		Extra:             r.Encoded.Extra,
	}
}

// Result is the outcome of a verification. Reason is set iff rejected;
// SettlementRef only when an external settlement happened.
type Result struct {
	Accepted      bool
	Reason        string
	SettlementRef string
	Network       string
	Payer         string
}

func accept(settlementRef, network, payer string) *Result {
	return &Result{Accepted: true, SettlementRef: settlementRef, Network: network, Payer: payer}
}

func reject(reason string) *Result {
	return &Result{Reason: reason}
}
