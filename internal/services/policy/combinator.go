package policy

import (
	"fmt"

	"github.com/asakaida/portaria/internal/entities"
)

// Outcome is the combined result before it is stamped into a Decision
type Outcome struct {
	Allowed bool
	Reason  string
	Message string
}

// Combine applies default-deny and deny-wins. Without a base grant the
// verdicts are not consulted. Otherwise the first denying dimension, in the
// order of entities.Dimensions, names the reason.
func Combine(granted bool, verdicts []entities.DimensionVerdict) (Outcome, error) {
	if !granted {
		return Outcome{Reason: entities.ReasonNoGrant, Message: "no role grants this action"}, nil
	}

	byDim := make(map[entities.Dimension]entities.DimensionVerdict, len(verdicts))
	for _, v := range verdicts {
		if _, err := denyReason(v.Dimension); err != nil {
			return Outcome{}, err
		}
		byDim[v.Dimension] = v
	}

	for _, dim := range entities.Dimensions {
		v, ok := byDim[dim]
		if !ok || v.Verdict != entities.Deny {
			continue
		}
		reason, _ := denyReason(dim)
		return Outcome{Reason: reason, Message: v.Detail}, nil
	}

	return Outcome{Allowed: true, Reason: entities.ReasonAllow, Message: "granted"}, nil
}

func denyReason(dim entities.Dimension) (string, error) {
	switch dim {
	case entities.DimensionPhase:
		return entities.ReasonPhaseDeny, nil
	case entities.DimensionPeriod:
		return entities.ReasonPeriodDeny, nil
	case entities.DimensionPayment:
		return entities.ReasonPaymentDeny, nil
	default:
		return "", entities.NewConfigurationError("dimension", fmt.Sprintf("unknown dimension %q", dim))
	}
}
