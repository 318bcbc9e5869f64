package policy

import (
	"context"
	"fmt"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// PaymentEvaluator decides the payer billing status dimension
type PaymentEvaluator struct {
	rules repositories.RuleRepository
}

// NewPaymentEvaluator creates a new payment status evaluator
func NewPaymentEvaluator(rules repositories.RuleRepository) *PaymentEvaluator {
	return &PaymentEvaluator{rules: rules}
}

// Dimension implements Evaluator
func (e *PaymentEvaluator) Dimension() entities.Dimension {
	return entities.DimensionPayment
}

// Evaluate implements Evaluator
func (e *PaymentEvaluator) Evaluate(ctx context.Context, ev *Evaluation) (entities.DimensionVerdict, error) {
	rules, err := e.rules.FindPaymentRules(ctx, ev.Resource, ev.Action)
	if err != nil {
		return entities.DimensionVerdict{}, fmt.Errorf("failed to find payment status rules: %w", err)
	}

	attrs := make([]attributeRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		attrs = append(attrs, attributeRule{id: r.ID, value: r.PaymentStatus, allowed: r.IsAllowed})
	}
	return matchAttribute(entities.DimensionPayment, attrs, ev.Context.PaymentStatus), nil
}
