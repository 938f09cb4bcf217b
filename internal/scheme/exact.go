package scheme

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-x402-gate/internal/evm"
	"github.com/0gfoundation/0g-x402-gate/internal/facilitator"
	"github.com/0gfoundation/0g-x402-gate/internal/money"
	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

// Facilitator is satisfied by *facilitator.Client.
type Facilitator interface {
	Verify(ctx context.Context, payload json.RawMessage, req *x402.PaymentRequirements) (*facilitator.VerifyResponse, error)
	Settle(ctx context.Context, payload json.RawMessage, req *x402.PaymentRequirements) (*facilitator.SettleResponse, error)
}

type ExactConfig struct {
	// Timeout bounds each facilitator call. Zero means 15s.
	Timeout time.Duration
	// Precheck enables the local EIP-3009 checks before /verify.
	Precheck bool
	Now      func() time.Time
}

// Exact verifies and settles on-chain payments through the facilitator.
type Exact struct {
	fac   Facilitator
	codec *money.Codec
	cfg   ExactConfig
	log   *zap.Logger
}

var _ Scheme = (*Exact)(nil)

func NewExact(fac Facilitator, codec *money.Codec, cfg ExactConfig, log *zap.Logger) *Exact {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Exact{fac: fac, codec: codec, cfg: cfg, log: log}
}

func (s *Exact) Kind() Kind { return KindExact }

// Supports reports whether an asset is registered for network.
func (s *Exact) Supports(network string) bool { return s.codec.Supports(network) }

func (s *Exact) Verify(ctx context.Context, req *Requirement, proof Proof) (*Result, error) {
	p, ok := proof.(*OnChainProof)
	if !ok {
		return nil, fmt.Errorf("%w: exact scheme got %T", ErrInternal, proof)
	}
	if p.Kind() != KindExact {
		return reject(ReasonSchemeMismatch), nil
	}
	if p.Network() != req.Network {
		return reject(ReasonUnsupportedNetwork), nil
	}

	if s.cfg.Precheck {
		if reason := s.precheck(req, p); reason != "" {
			s.log.Info("precheck rejected payment",
				zap.String("resource", req.ResourceID),
				zap.String("reason", reason),
			)
			return reject(reason), nil
		}
	}

	wire := req.PaymentRequirements()

	vctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	vr, err := s.fac.Verify(vctx, p.Raw, wire)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: verify: %w", ErrFacilitator, err)
	}
	if !vr.IsValid {
		reason := vr.InvalidReason
		if reason == "" {
			reason = ReasonVerifyFailed
		}
		return reject(reason), nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	sr, err := s.fac.Settle(sctx, p.Raw, wire)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: settle: %w", ErrFacilitator, err)
	}
	if !sr.Success {
		reason := sr.ErrorReason
		if reason == "" {
			reason = ReasonSettleFailed
		}
		return reject(reason), nil
	}

	payer := sr.Payer
	if payer == "" {
		payer = vr.Payer
	}
	network := sr.Network
	if network == "" {
		network = req.Network
	}
	return accept(sr.Transaction, network, payer), nil
}

// precheck returns a reason code, or "" when the authorization looks valid.
func (s *Exact) precheck(req *Requirement, p *OnChainProof) string {
	asset, ok := s.codec.Asset(req.Network)
	if !ok {
		return ReasonUnsupportedNetwork
	}
	chainID, err := evm.ChainID(req.Network)
	if err != nil {
		return evm.ReasonUnsupportedNetwork
	}

	var payload evm.Payload
	if err := json.Unmarshal(p.Payment.Payload, &payload); err != nil {
		return evm.ReasonInvalidPayload
	}
	_, err = evm.Check(&payload, evm.Expectation{
		PayTo:  req.PayTo,
		Amount: req.Encoded.Amount,
		Domain: evm.Domain{
			Name:              asset.Name,
			Version:           asset.Version,
			ChainID:           chainID,
			VerifyingContract: asset.Address,
		},
		Now: s.cfg.Now(),
	})
	if ce, ok := evm.IsCheckError(err); ok {
		return ce.Reason
	}
	if err != nil {
		return evm.ReasonInvalidPayload
	}
	return ""
}
