// Package gate decides, per request, whether a protected resource is
// released: no proof yields a 402 challenge, a proof is dispatched to the
// matching scheme and the result mapped to an HTTP status.
package gate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-x402-gate/internal/journal"
	"github.com/0gfoundation/0g-x402-gate/internal/metrics"
	"github.com/0gfoundation/0g-x402-gate/internal/scheme"
	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

// Gate is safe for concurrent use; its only shared mutable state lives in
// the nullifier store behind the redemption scheme.
type Gate struct {
	registry *scheme.Registry
	journal  journal.Journal
	metrics  metrics.Recorder
	log      *zap.Logger
}

func New(registry *scheme.Registry, j journal.Journal, m metrics.Recorder, log *zap.Logger) *Gate {
	if m == nil {
		m = metrics.NoopRecorder{}
	}
	if j == nil {
		j = journal.NewLog(log)
	}
	return &Gate{registry: registry, journal: j, metrics: m, log: log}
}

// Challenge builds the 402 body for req. msg is the optional error string.
func (g *Gate) Challenge(req *scheme.Requirement, msg string) *x402.PaymentRequired {
	g.metrics.Outcome(string(req.Scheme), req.Network, metrics.OutcomeChallenged, "")
	return &x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       msg,
		Accepts:     []x402.PaymentRequirements{*req.PaymentRequirements()},
	}
}

// Outcome is the gate's decision for one proof.
type Outcome struct {
	Status int
	// Result is nil when Err is set.
	Result *scheme.Result
	Err    error
}

func (o Outcome) Accepted() bool { return o.Result != nil && o.Result.Accepted }

// Evaluate verifies proof against req. It never retries.
func (g *Gate) Evaluate(ctx context.Context, req *scheme.Requirement, proof scheme.Proof) Outcome {
	network := proof.Network()
	if network == "" {
		network = req.Network
	}
	kind := string(proof.Kind())

	if proof.Kind() != req.Scheme {
		g.metrics.Outcome(kind, network, metrics.OutcomeRejected, scheme.ReasonSchemeMismatch)
		return Outcome{
			Status: http.StatusForbidden,
			Result: &scheme.Result{Reason: scheme.ReasonSchemeMismatch},
		}
	}

	s, err := g.registry.Resolve(proof.Kind(), network)
	if err != nil {
		g.metrics.Outcome(kind, network, metrics.OutcomeRejected, scheme.ReasonUnsupportedNetwork)
		return Outcome{
			Status: http.StatusForbidden,
			Result: &scheme.Result{Reason: scheme.ReasonUnsupportedNetwork},
		}
	}

	start := time.Now()
	res, err := s.Verify(ctx, req, proof)
	g.metrics.ObserveVerify(kind, network, time.Since(start))

	switch {
	case err != nil:
		status := http.StatusInternalServerError
		if errors.Is(err, scheme.ErrFacilitator) {
			status = http.StatusBadGateway
		}
		g.log.Error("verification fault",
			zap.String("resource", req.ResourceID),
			zap.String("scheme", kind),
			zap.Error(err),
		)
		g.metrics.Outcome(kind, network, metrics.OutcomeFault, "")
		return Outcome{Status: status, Err: err}

	case res.Accepted:
		g.metrics.Outcome(kind, network, metrics.OutcomeAccepted, "")
		return Outcome{Status: http.StatusOK, Result: res}

	case res.Reason == scheme.ReasonMissingField:
		g.metrics.Outcome(kind, network, metrics.OutcomeBadRequest, res.Reason)
		return Outcome{Status: http.StatusBadRequest, Result: res}

	default:
		g.metrics.Outcome(kind, network, metrics.OutcomeRejected, res.Reason)
		return Outcome{Status: http.StatusForbidden, Result: res}
	}
}

// Unfulfilled journals a request whose payment was taken but whose content
// could not be produced. The caller's context may already be cancelled, so
// the write is detached from it.
func (g *Gate) Unfulfilled(ctx context.Context, req *scheme.Requirement, proof scheme.Proof, res *scheme.Result, cause error) {
	e := journal.Entry{
		Resource:      req.ResourceID,
		Scheme:        string(req.Scheme),
		Network:       res.Network,
		SettlementRef: res.SettlementRef,
		Payer:         res.Payer,
		Error:         cause.Error(),
	}
	if rp, ok := proof.(*scheme.RedemptionProof); ok {
		e.Nullifier = scheme.ShortNullifier(rp.Nullifier)
	}
	g.metrics.Outcome(string(req.Scheme), req.Network, metrics.OutcomeUnfulfilled, "")

	if err := g.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		g.log.Error("journal write failed",
			zap.String("resource", e.Resource),
			zap.String("settlement_ref", e.SettlementRef),
			zap.String("nullifier", e.Nullifier),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}
