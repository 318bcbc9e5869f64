package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// PeriodEvaluator decides the calendar window dimension. Every period type
// that has rules for the action is evaluated on its own; a type whose
// instances cannot be resolved does not take part.
type PeriodEvaluator struct {
	rules    repositories.RuleRepository
	resolver *PeriodResolver
}

// NewPeriodEvaluator creates a new period evaluator
func NewPeriodEvaluator(rules repositories.RuleRepository, resolver *PeriodResolver) *PeriodEvaluator {
	return &PeriodEvaluator{rules: rules, resolver: resolver}
}

// Dimension implements Evaluator
func (e *PeriodEvaluator) Dimension() entities.Dimension {
	return entities.DimensionPeriod
}

// Evaluate implements Evaluator
func (e *PeriodEvaluator) Evaluate(ctx context.Context, ev *Evaluation) (entities.DimensionVerdict, error) {
	rules, err := e.rules.FindPeriodRulesByAction(ctx, ev.Resource, ev.Action)
	if err != nil {
		return entities.DimensionVerdict{}, fmt.Errorf("failed to find period rules: %w", err)
	}

	byType := make(map[entities.PeriodType][]*entities.PeriodRule)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if err := r.Validate(); err != nil {
			return entities.DimensionVerdict{}, err
		}
		byType[r.PeriodType] = append(byType[r.PeriodType], r)
	}

	out := entities.DimensionVerdict{Dimension: entities.DimensionPeriod, Verdict: entities.NotApplicable}
	if len(byType) == 0 {
		out.Detail = "no period rules"
		return out, nil
	}

	types := make([]entities.PeriodType, 0, len(byType))
	for pt := range byType {
		types = append(types, pt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var allowIDs, denyIDs []int64
	var allowed, denied, skipped []string
	for _, pt := range types {
		resolved, err := e.resolver.Resolve(ctx, ev.Context.InstitutionID, ev.Context.PoloID, pt, ev.Today)
		if err != nil {
			return entities.DimensionVerdict{}, fmt.Errorf("failed to resolve %s periods: %w", pt, err)
		}
		if resolved.Empty() {
			skipped = append(skipped, string(pt))
			continue
		}

		matched := matchWindows(byType[pt], resolved, ev)
		if len(matched) > 0 {
			allowIDs = append(allowIDs, matched...)
			allowed = append(allowed, string(pt))
			continue
		}
		for _, r := range byType[pt] {
			denyIDs = append(denyIDs, r.ID)
		}
		denied = append(denied, string(pt))
	}

	switch {
	case len(denied) > 0:
		out.Verdict = entities.Deny
		out.RuleIDs = denyIDs
		out.Detail = "outside window for " + strings.Join(denied, ",")
	case len(allowed) > 0:
		out.Verdict = entities.Allow
		out.RuleIDs = allowIDs
		out.Detail = "inside window for " + strings.Join(allowed, ",")
	default:
		out.Detail = "no period instances for " + strings.Join(skipped, ",")
	}
	return out, nil
}

// matchWindows returns the IDs of the rules whose window contains today on
// any resolved instance
func matchWindows(rules []*entities.PeriodRule, resolved *entities.ResolvedPeriods, ev *Evaluation) []int64 {
	var ids []int64
	for _, r := range rules {
		for _, inst := range resolved.Instances() {
			if dayInWindow(r, inst, ev.Today) {
				ids = append(ids, r.ID)
				break
			}
		}
	}
	return ids
}
