package repositories

import (
	"context"

	"github.com/asakaida/portaria/internal/entities"
)

// RuleRepository defines read access to the contextual rule tables.
// Every method returns active rules only.
type RuleRepository interface {
	// FindPhaseRules retrieves the phase rules for a resource/action across all phases
	FindPhaseRules(ctx context.Context, resource string, action string) ([]*entities.PhaseRule, error)

	// FindPeriodRules retrieves the period rules for a resource/action and one period type
	FindPeriodRules(ctx context.Context, resource string, action string, periodType entities.PeriodType) ([]*entities.PeriodRule, error)

	// FindPeriodRulesByAction retrieves the period rules for a resource/action across all period types
	FindPeriodRulesByAction(ctx context.Context, resource string, action string) ([]*entities.PeriodRule, error)

	// FindPaymentRules retrieves the payment status rules for a resource/action across all statuses
	FindPaymentRules(ctx context.Context, resource string, action string) ([]*entities.PaymentStatusRule, error)
}

// GrantRepository defines read access to the base role grant table
type GrantRepository interface {
	// HasGrant reports whether role may perform action on resource
	HasGrant(ctx context.Context, role string, resource string, action string) (bool, error)
}

// PeriodRepository defines read access to period instances
type PeriodRepository interface {
	// ListInstances retrieves the instances of a period type for an institution.
	// With a non-empty poloID both polo-scoped and institution-wide instances are returned.
	ListInstances(ctx context.Context, institutionID string, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error)
}

// RuleSet is a complete set of grants, contextual rules and period instances,
// as read from a rule file or imported into a store
type RuleSet struct {
	Grants       []*entities.PermissionGrant
	PhaseRules   []*entities.PhaseRule
	PeriodRules  []*entities.PeriodRule
	PaymentRules []*entities.PaymentStatusRule
	Periods      []*entities.PeriodInstance
}
