// Package metrics counts gate outcomes and times verifications.
package metrics

import "time"

// Outcome labels.
const (
	OutcomeChallenged  = "challenged"
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeBadRequest  = "bad_request"
	OutcomeFault       = "fault"
	OutcomeUnfulfilled = "unfulfilled"
)

type Recorder interface {
	// Outcome counts one finished request. reason is empty unless rejected.
	Outcome(scheme, network, outcome, reason string)
	// ObserveVerify records how long a scheme took to verify a proof.
	ObserveVerify(scheme, network string, d time.Duration)
}

type NoopRecorder struct{}

func (NoopRecorder) Outcome(string, string, string, string)      {}
func (NoopRecorder) ObserveVerify(string, string, time.Duration) {}
