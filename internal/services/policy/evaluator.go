package policy

import (
	"context"
	"strings"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/golang-sql/civil"
)

// Evaluation is the read-only input shared by the dimension evaluators of
// one request
type Evaluation struct {
	Resource string
	Action   string
	Context  entities.EvaluationContext
	Now      time.Time
	Location *time.Location
	Today    civil.Date // civil date of Now in Location
}

// Evaluator produces the verdict of a single contextual dimension
type Evaluator interface {
	Dimension() entities.Dimension
	Evaluate(ctx context.Context, ev *Evaluation) (entities.DimensionVerdict, error)
}

// attributeRule is the shape shared by phase and payment status rules: a
// rule keyed on one context attribute with an explicit allow flag.
type attributeRule struct {
	id      int64
	value   string
	allowed bool
}

// matchAttribute applies deny-wins over the rules whose value equals the
// context attribute. No matching rule is NotApplicable.
func matchAttribute(dim entities.Dimension, rules []attributeRule, attr string) entities.DimensionVerdict {
	attr = strings.TrimSpace(attr)
	out := entities.DimensionVerdict{Dimension: dim, Verdict: entities.NotApplicable}
	if attr == "" {
		out.Detail = "no " + string(dim) + " in context"
		return out
	}

	var allowIDs, denyIDs []int64
	for _, r := range rules {
		if !strings.EqualFold(strings.TrimSpace(r.value), attr) {
			continue
		}
		if r.allowed {
			allowIDs = append(allowIDs, r.id)
		} else {
			denyIDs = append(denyIDs, r.id)
		}
	}

	switch {
	case len(denyIDs) > 0:
		out.Verdict = entities.Deny
		out.RuleIDs = denyIDs
		out.Detail = string(dim) + " " + attr + " is denied"
	case len(allowIDs) > 0:
		out.Verdict = entities.Allow
		out.RuleIDs = allowIDs
		out.Detail = string(dim) + " " + attr + " is allowed"
	default:
		out.Detail = "no rule for " + string(dim) + " " + attr
	}
	return out
}
