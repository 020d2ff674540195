package model

import "time"

// Protocol identifies the handover protocol variant under evaluation.
type Protocol string

const (
	ProtocolBaseline Protocol = "baseline"
	ProtocolSATPQH   Protocol = "sat-pqh"
)

// Valid reports whether p is a recognised protocol identifier.
func (p Protocol) Valid() bool {
	return p == ProtocolBaseline || p == ProtocolSATPQH
}

// Outcome reasons. Successful proactive handovers carry an empty reason;
// ReasonMarginInsufficient annotates a success that had to fall back to
// the reactive path because the key was not ready by the deadline.
const (
	ReasonMarginInsufficient = "margin-insufficient"
	ReasonNoCandidate        = "no-candidate"
	ReasonExchangeFailed     = "exchange-failed"
	ReasonNotVisible         = "not-visible"
)

// OutcomeRecord is the immutable result of one handover attempt.
type OutcomeRecord struct {
	UserID   string
	Protocol Protocol

	// Interruption is the service gap the user experienced, zero for an
	// on-time proactive switch.
	Interruption time.Duration
	// TotalLatency is the time from handover initiation (lead-time trigger
	// or loss detection) to re-attachment.
	TotalLatency time.Duration

	Success bool
	Reason  string
}
