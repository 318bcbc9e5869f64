package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// ImportResult counts the rows written by Import
type ImportResult struct {
	Grants       int
	PhaseRules   int
	PeriodRules  int
	PaymentRules int
	Periods      int
}

// PostgresRuleWriter inserts and deactivates rules. Rules are never updated
// or deleted: a change is a new row plus the deactivation of the old one.
type PostgresRuleWriter struct {
	db *sql.DB
}

// NewPostgresRuleWriter creates a new PostgreSQL rule writer
func NewPostgresRuleWriter(db *sql.DB) *PostgresRuleWriter {
	return &PostgresRuleWriter{db: db}
}

// Import inserts every grant, rule and period instance of set in one
// transaction. IDs are assigned by the database and written back to set.
// Existing grants are left untouched.
func (w *PostgresRuleWriter) Import(ctx context.Context, set *repositories.RuleSet) (*ImportResult, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &ImportResult{}

	for _, g := range set.Grants {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("invalid grant: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO permission_grants (role, resource, action)
			VALUES ($1, $2, $3)
			ON CONFLICT (role, resource, action) DO NOTHING
		`, g.Role, g.Resource, g.Action)
		if err != nil {
			return nil, fmt.Errorf("failed to insert grant: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Grants++
		}
	}

	for _, r := range set.PhaseRules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid phase rule: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO phase_rules (resource, action, phase, is_allowed, is_active, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, r.Resource, r.Action, r.Phase, r.IsAllowed, r.IsActive, r.Description).Scan(&r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert phase rule: %w", err)
		}
		result.PhaseRules++
	}

	for _, r := range set.PeriodRules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid period rule: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO period_rules (resource, action, period_type, days_before_start, days_after_end, is_active, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, r.Resource, r.Action, string(r.PeriodType), r.DaysBeforeStart, r.DaysAfterEnd, r.IsActive, r.Description).Scan(&r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert period rule: %w", err)
		}
		result.PeriodRules++
	}

	for _, r := range set.PaymentRules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid payment status rule: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO payment_status_rules (resource, action, payment_status, is_allowed, is_active, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, r.Resource, r.Action, r.PaymentStatus, r.IsAllowed, r.IsActive, r.Description).Scan(&r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert payment status rule: %w", err)
		}
		result.PaymentRules++
	}

	for _, p := range set.Periods {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid period instance: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO period_instances (period_type, institution_id, polo_id, start_date, end_date)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, string(p.PeriodType), p.InstitutionID, nullString(p.PoloID), p.StartDate.String(), p.EndDate.String()).Scan(&p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert period instance: %w", err)
		}
		result.Periods++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// Deactivate marks a rule inactive. It returns an error when no active rule
// with that ID exists in the dimension.
func (w *PostgresRuleWriter) Deactivate(ctx context.Context, dim entities.Dimension, id int64) error {
	var table string
	switch dim {
	case entities.DimensionPhase:
		table = "phase_rules"
	case entities.DimensionPeriod:
		table = "period_rules"
	case entities.DimensionPayment:
		table = "payment_status_rules"
	default:
		return fmt.Errorf("unknown dimension: %s", dim)
	}

	res, err := w.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET is_active = FALSE WHERE id = $1 AND is_active", table), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate %s rule: %w", dim, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate %s rule: %w", dim, err)
	}
	if n == 0 {
		return fmt.Errorf("active %s rule not found: %d", dim, id)
	}
	return nil
}
