package policy

import (
	"context"
	"fmt"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// PhaseEvaluator decides the institution lifecycle phase dimension
type PhaseEvaluator struct {
	rules repositories.RuleRepository
}

// NewPhaseEvaluator creates a new phase evaluator
func NewPhaseEvaluator(rules repositories.RuleRepository) *PhaseEvaluator {
	return &PhaseEvaluator{rules: rules}
}

// Dimension implements Evaluator
func (e *PhaseEvaluator) Dimension() entities.Dimension {
	return entities.DimensionPhase
}

// Evaluate implements Evaluator
func (e *PhaseEvaluator) Evaluate(ctx context.Context, ev *Evaluation) (entities.DimensionVerdict, error) {
	rules, err := e.rules.FindPhaseRules(ctx, ev.Resource, ev.Action)
	if err != nil {
		return entities.DimensionVerdict{}, fmt.Errorf("failed to find phase rules: %w", err)
	}

	attrs := make([]attributeRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		attrs = append(attrs, attributeRule{id: r.ID, value: r.Phase, allowed: r.IsAllowed})
	}
	return matchAttribute(entities.DimensionPhase, attrs, ev.Context.InstitutionPhase), nil
}
