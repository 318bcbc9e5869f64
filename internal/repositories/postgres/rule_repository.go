package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// PostgresRuleRepository implements RuleRepository using PostgreSQL
type PostgresRuleRepository struct {
	db *sql.DB
}

// NewPostgresRuleRepository creates a new PostgreSQL rule repository
func NewPostgresRuleRepository(db *sql.DB) repositories.RuleRepository {
	return &PostgresRuleRepository{db: db}
}

// FindPhaseRules retrieves the active phase rules for a resource/action
func (r *PostgresRuleRepository) FindPhaseRules(ctx context.Context, resource string, action string) ([]*entities.PhaseRule, error) {
	query := `
		SELECT id, resource, action, phase, is_allowed, is_active, description
		FROM phase_rules
		WHERE resource = $1 AND action = $2 AND is_active
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, resource, action)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase rules: %w", err)
	}
	defer rows.Close()

	var rules []*entities.PhaseRule
	for rows.Next() {
		rule := &entities.PhaseRule{}
		if err := rows.Scan(&rule.ID, &rule.Resource, &rule.Action, &rule.Phase,
			&rule.IsAllowed, &rule.IsActive, &rule.Description); err != nil {
			return nil, fmt.Errorf("failed to scan phase rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase rules: %w", err)
	}

	return rules, nil
}

// FindPeriodRules retrieves the active period rules for a resource/action and period type
func (r *PostgresRuleRepository) FindPeriodRules(ctx context.Context, resource string, action string, periodType entities.PeriodType) ([]*entities.PeriodRule, error) {
	query := `
		SELECT id, resource, action, period_type, days_before_start, days_after_end, is_active, description
		FROM period_rules
		WHERE resource = $1 AND action = $2 AND period_type = $3 AND is_active
		ORDER BY id
	`
	return r.queryPeriodRules(ctx, query, resource, action, string(periodType))
}

// FindPeriodRulesByAction retrieves the active period rules for a resource/action across all period types
func (r *PostgresRuleRepository) FindPeriodRulesByAction(ctx context.Context, resource string, action string) ([]*entities.PeriodRule, error) {
	query := `
		SELECT id, resource, action, period_type, days_before_start, days_after_end, is_active, description
		FROM period_rules
		WHERE resource = $1 AND action = $2 AND is_active
		ORDER BY period_type, id
	`
	return r.queryPeriodRules(ctx, query, resource, action)
}

func (r *PostgresRuleRepository) queryPeriodRules(ctx context.Context, query string, args ...interface{}) ([]*entities.PeriodRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query period rules: %w", err)
	}
	defer rows.Close()

	var rules []*entities.PeriodRule
	for rows.Next() {
		rule := &entities.PeriodRule{}
		var periodType string
		if err := rows.Scan(&rule.ID, &rule.Resource, &rule.Action, &periodType,
			&rule.DaysBeforeStart, &rule.DaysAfterEnd, &rule.IsActive, &rule.Description); err != nil {
			return nil, fmt.Errorf("failed to scan period rule: %w", err)
		}
		rule.PeriodType = entities.PeriodType(periodType)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period rules: %w", err)
	}

	return rules, nil
}

// FindPaymentRules retrieves the active payment status rules for a resource/action
func (r *PostgresRuleRepository) FindPaymentRules(ctx context.Context, resource string, action string) ([]*entities.PaymentStatusRule, error) {
	query := `
		SELECT id, resource, action, payment_status, is_allowed, is_active, description
		FROM payment_status_rules
		WHERE resource = $1 AND action = $2 AND is_active
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, resource, action)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment status rules: %w", err)
	}
	defer rows.Close()

	var rules []*entities.PaymentStatusRule
	for rows.Next() {
		rule := &entities.PaymentStatusRule{}
		if err := rows.Scan(&rule.ID, &rule.Resource, &rule.Action, &rule.PaymentStatus,
			&rule.IsAllowed, &rule.IsActive, &rule.Description); err != nil {
			return nil, fmt.Errorf("failed to scan payment status rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment status rules: %w", err)
	}

	return rules, nil
}
