package handlers

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/services/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type mockEvaluator struct {
	evaluateFunc func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error)
}

func (m *mockEvaluator) Evaluate(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
	return m.evaluateFunc(ctx, req)
}

var evaluatedAt = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb.NewStruct() error = %v", err)
	}
	return s
}

func validRequest(t *testing.T) *structpb.Struct {
	return mustStruct(t, map[string]interface{}{
		"subject":  map[string]interface{}{"id": "user-1", "roles": []interface{}{"secretaria"}},
		"resource": "matricula",
		"action":   "criar",
		"context": map[string]interface{}{
			"institution_id":    "inst-1",
			"polo_id":           "polo-9",
			"institution_phase": "active",
			"payment_status":    "paid",
			"timezone":          "America/Sao_Paulo",
			"now":               "2025-03-10T12:00:00Z",
		},
	})
}

func TestDecisionHandler_Evaluate_Allowed(t *testing.T) {
	evaluator := &mockEvaluator{
		evaluateFunc: func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
			if req.Subject.ID != "user-1" || len(req.Subject.Roles) != 1 || req.Subject.Roles[0] != "secretaria" {
				t.Errorf("expected subject user-1 with role secretaria, got %+v", req.Subject)
			}
			if req.Context.PoloID != "polo-9" || req.Context.Timezone != "America/Sao_Paulo" {
				t.Errorf("expected polo-9 in America/Sao_Paulo, got %+v", req.Context)
			}
			if !req.Context.Now.Equal(evaluatedAt) {
				t.Errorf("expected now %v, got %v", evaluatedAt, req.Context.Now)
			}
			return &entities.Decision{
				ID:          "d-1",
				Allowed:     true,
				Reason:      entities.ReasonAllow,
				EvaluatedAt: evaluatedAt,
				Verdicts: []entities.DimensionVerdict{
					{Dimension: entities.DimensionPeriod, Verdict: entities.Allow, RuleIDs: []int64{21}},
				},
			}, nil
		},
	}

	resp, err := NewDecisionHandler(evaluator).Evaluate(context.Background(), validRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fields := resp.GetFields()
	if !fields["allowed"].GetBoolValue() {
		t.Error("expected allowed to be true")
	}
	if got := fields["reason"].GetStringValue(); got != entities.ReasonAllow {
		t.Errorf("expected reason ALLOW, got %s", got)
	}
	verdicts := fields["verdicts"].GetListValue().GetValues()
	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	v := verdicts[0].GetStructValue().GetFields()
	if v["dimension"].GetStringValue() != "period" || v["verdict"].GetStringValue() != "allow" {
		t.Errorf("expected period allow, got %v", v)
	}
	if ids := v["rule_ids"].GetListValue().GetValues(); len(ids) != 1 || ids[0].GetNumberValue() != 21 {
		t.Errorf("expected rule_ids [21], got %v", ids)
	}
}

func TestDecisionHandler_Evaluate_FailureIsDecision(t *testing.T) {
	evaluator := &mockEvaluator{
		evaluateFunc: func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
			err := fmt.Errorf("%w: connection refused", entities.ErrStoreUnavailable)
			return entities.DenyDecision("d-2", entities.ReasonStoreUnavailable, err.Error(), evaluatedAt), err
		},
	}

	resp, err := NewDecisionHandler(evaluator).Evaluate(context.Background(), validRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["allowed"].GetBoolValue() {
		t.Error("expected allowed to be false")
	}
	if got := resp.GetFields()["reason"].GetStringValue(); got != entities.ReasonStoreUnavailable {
		t.Errorf("expected reason STORE_UNAVAILABLE, got %s", got)
	}
}

func TestDecisionHandler_Evaluate_InvalidArgument(t *testing.T) {
	invalid := &mockEvaluator{
		evaluateFunc: func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
			err := fmt.Errorf("%w: resource is required", entities.ErrInvalidRequest)
			return entities.DenyDecision("d-3", entities.ReasonInvalidRequest, err.Error(), evaluatedAt), err
		},
	}
	unreachable := &mockEvaluator{
		evaluateFunc: func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
			t.Error("evaluator should not be called")
			return nil, nil
		},
	}

	tests := []struct {
		name      string
		evaluator *mockEvaluator
		req       *structpb.Struct
	}{
		{name: "nil request", evaluator: unreachable, req: nil},
		{
			name:      "bad timestamp",
			evaluator: unreachable,
			req: mustStruct(t, map[string]interface{}{
				"resource": "matricula",
				"action":   "criar",
				"context":  map[string]interface{}{"institution_id": "inst-1", "now": "yesterday"},
			}),
		},
		{
			name:      "wrong field type",
			evaluator: unreachable,
			req:       mustStruct(t, map[string]interface{}{"resource": 12.0}),
		},
		{name: "rejected by engine", evaluator: invalid, req: validRequest(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecisionHandler(tt.evaluator).Evaluate(context.Background(), tt.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestDecisionService_OverGRPC(t *testing.T) {
	evaluator := &mockEvaluator{
		evaluateFunc: func(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error) {
			return &entities.Decision{ID: "d-4", Reason: entities.ReasonNoGrant, EvaluatedAt: evaluatedAt}, nil
		},
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterDecisionServiceServer(server, NewDecisionHandler(evaluator))
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+DecisionServiceName+"/Evaluate", validRequest(t), out); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := out.GetFields()["reason"].GetStringValue(); got != entities.ReasonNoGrant {
		t.Errorf("expected reason NO_GRANT, got %s", got)
	}
	if got := out.GetFields()["decision_id"].GetStringValue(); got != "d-4" {
		t.Errorf("expected decision_id d-4, got %s", got)
	}
}
