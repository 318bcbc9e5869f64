package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/services/policy"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EvaluateRequestView is the wire shape of an evaluation request
type EvaluateRequestView struct {
	Subject struct {
		ID    string   `json:"id"`
		Roles []string `json:"roles"`
	} `json:"subject"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Context  struct {
		InstitutionID    string `json:"institution_id"`
		PoloID           string `json:"polo_id,omitempty"`
		InstitutionPhase string `json:"institution_phase,omitempty"`
		PaymentStatus    string `json:"payment_status,omitempty"`
		Timezone         string `json:"timezone,omitempty"`
		Now              string `json:"now,omitempty"` // RFC 3339
	} `json:"context"`
}

// ToRequest converts the view into an engine request
func (v *EvaluateRequestView) ToRequest() (*policy.EvaluationRequest, error) {
	req := &policy.EvaluationRequest{
		Subject:  entities.Subject{ID: v.Subject.ID, Roles: v.Subject.Roles},
		Resource: v.Resource,
		Action:   v.Action,
		Context: entities.EvaluationContext{
			InstitutionID:    v.Context.InstitutionID,
			PoloID:           v.Context.PoloID,
			InstitutionPhase: v.Context.InstitutionPhase,
			PaymentStatus:    v.Context.PaymentStatus,
			Timezone:         v.Context.Timezone,
		},
	}
	if v.Context.Now != "" {
		now, err := time.Parse(time.RFC3339, v.Context.Now)
		if err != nil {
			return nil, fmt.Errorf("invalid context.now: %w", err)
		}
		req.Context.Now = now
	}
	return req, nil
}

// VerdictView is the wire shape of one dimension verdict
type VerdictView struct {
	Dimension string  `json:"dimension"`
	Verdict   string  `json:"verdict"`
	RuleIDs   []int64 `json:"rule_ids,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// DecisionView is the wire shape of a decision
type DecisionView struct {
	DecisionID  string        `json:"decision_id"`
	Allowed     bool          `json:"allowed"`
	Reason      string        `json:"reason"`
	Message     string        `json:"message,omitempty"`
	EvaluatedAt string        `json:"evaluated_at"`
	Verdicts    []VerdictView `json:"verdicts,omitempty"`
}

// NewDecisionView converts a decision for output
func NewDecisionView(d *entities.Decision) *DecisionView {
	view := &DecisionView{
		DecisionID:  d.ID,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
		Message:     d.Message,
		EvaluatedAt: d.EvaluatedAt.Format(time.RFC3339Nano),
	}
	for _, v := range d.Verdicts {
		view.Verdicts = append(view.Verdicts, VerdictView{
			Dimension: string(v.Dimension),
			Verdict:   v.Verdict.String(),
			RuleIDs:   v.RuleIDs,
			Detail:    v.Detail,
		})
	}
	return view
}

func structToView(s *structpb.Struct, out interface{}) error {
	if s == nil {
		return fmt.Errorf("request is empty")
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

func viewToStruct(in interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return s, nil
}
