package entities

import (
	"fmt"
	"time"
)

// Verdict is the outcome of a single dimension evaluator
type Verdict int

const (
	NotApplicable Verdict = iota
	Allow
	Deny
)

// String returns the verdict name
func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case NotApplicable:
		return "not_applicable"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Reason codes attached to every decision
const (
	ReasonAllow              = "ALLOW"
	ReasonNoGrant            = "NO_GRANT"
	ReasonPhaseDeny          = "PHASE_DENY"
	ReasonPeriodDeny         = "PERIOD_DENY"
	ReasonPaymentDeny        = "PAYMENT_STATUS_DENY"
	ReasonConfigurationError = "CONFIGURATION_ERROR"
	ReasonStoreUnavailable   = "STORE_UNAVAILABLE"
	ReasonTimeout            = "TIMEOUT"
	ReasonInvalidRequest     = "INVALID_REQUEST"
)

// DimensionVerdict is the verdict of one dimension together with the rules
// that produced it
type DimensionVerdict struct {
	Dimension Dimension
	Verdict   Verdict
	RuleIDs   []int64 // matched rules (for period: rules whose window decided the outcome)
	Detail    string  // short human-readable explanation
}

// Decision is the final allow/deny outcome of an evaluation
type Decision struct {
	ID          string
	Allowed     bool
	Reason      string // one of the Reason* codes
	Message     string
	EvaluatedAt time.Time
	Verdicts    []DimensionVerdict
}

// DenyDecision builds a Deny decision with the given reason
func DenyDecision(id, reason, message string, at time.Time) *Decision {
	return &Decision{
		ID:          id,
		Allowed:     false,
		Reason:      reason,
		Message:     message,
		EvaluatedAt: at,
	}
}

// Verdict returns the verdict recorded for a dimension
func (d *Decision) Verdict(dim Dimension) (DimensionVerdict, bool) {
	for _, v := range d.Verdicts {
		if v.Dimension == dim {
			return v, true
		}
	}
	return DimensionVerdict{}, false
}

// String returns a compact representation of the decision
func (d *Decision) String() string {
	effect := "deny"
	if d.Allowed {
		effect = "allow"
	}
	return fmt.Sprintf("%s(%s)", effect, d.Reason)
}
