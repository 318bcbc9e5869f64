package entities

import "fmt"

// Dimension identifies one of the contextual rule dimensions
type Dimension string

const (
	DimensionPhase   Dimension = "phase"
	DimensionPeriod  Dimension = "period"
	DimensionPayment Dimension = "payment_status"
)

// Dimensions lists every contextual dimension in combination order
var Dimensions = []Dimension{DimensionPhase, DimensionPeriod, DimensionPayment}

// Rule is a contextual rule row. The set of implementations is closed:
// PhaseRule, PeriodRule and PaymentStatusRule.
type Rule interface {
	isRule()
	// Dimension returns the dimension the rule belongs to
	Dimension() Dimension
	// Key returns the (resource, action) pair the rule applies to
	Key() (resource string, action string)
	// Active reports whether the rule may be matched
	Active() bool
}

// PhaseRule allows or denies an action while the institution is in a lifecycle phase
// Example: matricula/criar is denied while the institution is "suspended"
type PhaseRule struct {
	ID          int64
	Resource    string // e.g. "matricula"
	Action      string // e.g. "criar"
	Phase       string // e.g. "suspended"
	IsAllowed   bool
	IsActive    bool
	Description string
}

func (r *PhaseRule) isRule() {}

// Dimension implements Rule
func (r *PhaseRule) Dimension() Dimension { return DimensionPhase }

// Key implements Rule
func (r *PhaseRule) Key() (string, string) { return r.Resource, r.Action }

// Active implements Rule
func (r *PhaseRule) Active() bool { return r.IsActive }

// Validate checks if the phase rule is valid
func (r *PhaseRule) Validate() error {
	if err := validateKey(r.Resource, r.Action); err != nil {
		return err
	}
	if r.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	return nil
}

// PeriodRule grants an action from DaysBeforeStart days before a period starts
// through DaysAfterEnd days after it ends. Both offsets at 0 means strictly
// inside the period.
type PeriodRule struct {
	ID              int64
	Resource        string
	Action          string
	PeriodType      PeriodType
	DaysBeforeStart int
	DaysAfterEnd    int
	IsActive        bool
	Description     string
}

func (r *PeriodRule) isRule() {}

// Dimension implements Rule
func (r *PeriodRule) Dimension() Dimension { return DimensionPeriod }

// Key implements Rule
func (r *PeriodRule) Key() (string, string) { return r.Resource, r.Action }

// Active implements Rule
func (r *PeriodRule) Active() bool { return r.IsActive }

// Validate checks if the period rule is valid. Negative offsets are reported
// as a ConfigurationError.
func (r *PeriodRule) Validate() error {
	if err := validateKey(r.Resource, r.Action); err != nil {
		return err
	}
	if r.PeriodType == "" {
		return fmt.Errorf("period type is required")
	}
	if r.DaysBeforeStart < 0 {
		return NewConfigurationError(r.source(), fmt.Sprintf("days_before_start must be >= 0, got %d", r.DaysBeforeStart))
	}
	if r.DaysAfterEnd < 0 {
		return NewConfigurationError(r.source(), fmt.Sprintf("days_after_end must be >= 0, got %d", r.DaysAfterEnd))
	}
	return nil
}

func (r *PeriodRule) source() string {
	return fmt.Sprintf("period_rule:%d", r.ID)
}

// PaymentStatusRule allows or denies an action depending on the payer's billing status
type PaymentStatusRule struct {
	ID            int64
	Resource      string
	Action        string
	PaymentStatus string // e.g. "overdue"
	IsAllowed     bool
	IsActive      bool
	Description   string
}

func (r *PaymentStatusRule) isRule() {}

// Dimension implements Rule
func (r *PaymentStatusRule) Dimension() Dimension { return DimensionPayment }

// Key implements Rule
func (r *PaymentStatusRule) Key() (string, string) { return r.Resource, r.Action }

// Active implements Rule
func (r *PaymentStatusRule) Active() bool { return r.IsActive }

// Validate checks if the payment status rule is valid
func (r *PaymentStatusRule) Validate() error {
	if err := validateKey(r.Resource, r.Action); err != nil {
		return err
	}
	if r.PaymentStatus == "" {
		return fmt.Errorf("payment status is required")
	}
	return nil
}

// PermissionGrant is a base RBAC grant: role may perform action on resource
type PermissionGrant struct {
	Role     string
	Resource string
	Action   string
}

// Validate checks if the grant is valid
func (g *PermissionGrant) Validate() error {
	if g.Role == "" {
		return fmt.Errorf("role is required")
	}
	return validateKey(g.Resource, g.Action)
}

func validateKey(resource, action string) error {
	if resource == "" {
		return fmt.Errorf("resource is required")
	}
	if action == "" {
		return fmt.Errorf("action is required")
	}
	return nil
}
