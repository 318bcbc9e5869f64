package entities

import (
	"fmt"
	"time"
)

// Institution lifecycle phases
const (
	PhaseProspecting    = "prospecting"
	PhaseOnboarding     = "onboarding"
	PhaseImplementation = "implementation"
	PhaseActive         = "active"
	PhaseSuspended      = "suspended"
	PhaseCanceled       = "canceled"
)

// Payer billing statuses
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentOverdue  = "overdue"
	PaymentRefunded = "refunded"
	PaymentCanceled = "canceled"
)

// Subject is the caller being authorized
type Subject struct {
	ID    string
	Roles []string
}

// EvaluationContext carries the attributes the contextual dimensions read.
// Phase and payment status come from external context providers.
type EvaluationContext struct {
	InstitutionID    string
	PoloID           string    // optional
	InstitutionPhase string    // e.g. "active"
	PaymentStatus    string    // e.g. "paid"
	Now              time.Time // zero = engine clock
	Timezone         string    // IANA name; empty = engine default
}

// Validate checks the context has what period resolution needs
func (c *EvaluationContext) Validate() error {
	if c.InstitutionID == "" {
		return fmt.Errorf("institution ID is required")
	}
	return nil
}
