package handlers

import (
	"context"
	"errors"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/services/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DecisionServiceName is the fully qualified gRPC service name
const DecisionServiceName = "portaria.v1.DecisionService"

// EvaluatorInterface defines the interface for access evaluation
type EvaluatorInterface interface {
	Evaluate(ctx context.Context, req *policy.EvaluationRequest) (*entities.Decision, error)
}

// DecisionServiceServer is the server API for DecisionService
type DecisionServiceServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// DecisionHandler serves access decisions over gRPC
type DecisionHandler struct {
	evaluator EvaluatorInterface
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(evaluator EvaluatorInterface) *DecisionHandler {
	return &DecisionHandler{evaluator: evaluator}
}

// Evaluate handles the Evaluate RPC.
// Store failures and timeouts are not RPC errors: the caller receives a
// Deny decision whose reason names the failure. Only malformed requests
// fail with InvalidArgument.
func (h *DecisionHandler) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var view EvaluateRequestView
	if err := structToView(req, &view); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	evalReq, err := view.ToRequest()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decision, err := h.evaluator.Evaluate(ctx, evalReq)
	if err != nil && errors.Is(err, entities.ErrInvalidRequest) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := viewToStruct(NewDecisionView(decision))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode decision: %v", err)
	}
	return resp, nil
}

func evaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServiceServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + DecisionServiceName + "/Evaluate",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DecisionServiceServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DecisionServiceDesc describes DecisionService for grpc.Server.RegisterService
var DecisionServiceDesc = grpc.ServiceDesc{
	ServiceName: DecisionServiceName,
	HandlerType: (*DecisionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "portaria/v1/decision.proto",
}

// RegisterDecisionServiceServer registers the handler with a gRPC server
func RegisterDecisionServiceServer(s grpc.ServiceRegistrar, srv DecisionServiceServer) {
	s.RegisterService(&DecisionServiceDesc, srv)
}
