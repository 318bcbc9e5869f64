package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultEvaluationTimeout bounds a single evaluation
const DefaultEvaluationTimeout = 2 * time.Second

var tracer = otel.Tracer("github.com/asakaida/portaria/internal/services/policy")

// EvaluationRequest is the (subject, resource, action, context) tuple
type EvaluationRequest struct {
	Subject  entities.Subject
	Resource string
	Action   string
	Context  entities.EvaluationContext
}

// Validate checks the request has what evaluation needs
func (r *EvaluationRequest) Validate() error {
	if strings.TrimSpace(r.Resource) == "" {
		return fmt.Errorf("resource is required")
	}
	if strings.TrimSpace(r.Action) == "" {
		return fmt.Errorf("action is required")
	}
	return r.Context.Validate()
}

// DecisionObserver is notified of every decision, e.g. to export metrics
type DecisionObserver interface {
	ObserveDecision(decision *entities.Decision, duration time.Duration)
}

// EngineConfig holds engine settings
type EngineConfig struct {
	Timeout         time.Duration
	DefaultLocation *time.Location
	Logger          *zap.Logger
	Recorder        repositories.DecisionRecorder // optional audit sink
	Observer        DecisionObserver              // optional
	Clock           func() time.Time
}

// DefaultEngineConfig returns the default engine configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Timeout:         DefaultEvaluationTimeout,
		DefaultLocation: time.UTC,
		Logger:          zap.NewNop(),
		Clock:           time.Now,
	}
}

// Engine evaluates requests against the base grants and the contextual
// dimensions. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	grants     repositories.GrantRepository
	evaluators []Evaluator
	timeout    time.Duration
	location   *time.Location
	logger     *zap.Logger
	recorder   repositories.DecisionRecorder
	observer   DecisionObserver
	clock      func() time.Time
}

// NewEngine creates a new engine. A nil config uses DefaultEngineConfig.
func NewEngine(rules repositories.RuleRepository, grants repositories.GrantRepository, resolver *PeriodResolver, config *EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config == nil {
		config = defaults
	}

	e := &Engine{
		grants: grants,
		evaluators: []Evaluator{
			NewPhaseEvaluator(rules),
			NewPeriodEvaluator(rules, resolver),
			NewPaymentEvaluator(rules),
		},
		timeout:  config.Timeout,
		location: config.DefaultLocation,
		logger:   config.Logger,
		recorder: config.Recorder,
		observer: config.Observer,
		clock:    config.Clock,
	}
	if e.timeout <= 0 {
		e.timeout = defaults.Timeout
	}
	if e.location == nil {
		e.location = defaults.DefaultLocation
	}
	if e.logger == nil {
		e.logger = defaults.Logger
	}
	if e.clock == nil {
		e.clock = defaults.Clock
	}
	return e
}

// Evaluate decides whether the subject may perform the action on the
// resource in the given context. The returned Decision is never nil; when
// err is non-nil the decision is a Deny whose reason classifies the error.
// Decision.ID is unique per call and names the audit record; replaying the
// same request with the same Now yields the same Allowed, Reason,
// EvaluatedAt and Verdicts, but a new ID.
func (e *Engine) Evaluate(ctx context.Context, req *EvaluationRequest) (*entities.Decision, error) {
	started := e.clock()
	id := uuid.NewString()

	ctx, span := tracer.Start(ctx, "policy.Evaluate", trace.WithAttributes(
		attribute.String("portaria.decision.id", id),
		attribute.String("portaria.resource", req.Resource),
		attribute.String("portaria.action", req.Action),
		attribute.String("portaria.institution.id", req.Context.InstitutionID),
	))
	defer span.End()

	now := req.Context.Now
	if now.IsZero() {
		now = started
	}

	decision, err := e.evaluate(ctx, id, now, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, decision.Reason)
		e.logger.Warn("evaluation failed",
			zap.String("decision_id", id),
			zap.String("subject_id", req.Subject.ID),
			zap.String("resource", req.Resource),
			zap.String("action", req.Action),
			zap.String("reason", decision.Reason),
			zap.Error(err),
		)
	} else {
		e.logger.Debug("evaluated",
			zap.String("decision_id", id),
			zap.String("subject_id", req.Subject.ID),
			zap.String("resource", req.Resource),
			zap.String("action", req.Action),
			zap.Bool("allowed", decision.Allowed),
			zap.String("reason", decision.Reason),
		)
	}
	span.SetAttributes(
		attribute.Bool("portaria.allowed", decision.Allowed),
		attribute.String("portaria.reason", decision.Reason),
	)

	e.record(ctx, req, decision)
	if e.observer != nil {
		e.observer.ObserveDecision(decision, e.clock().Sub(started))
	}
	return decision, err
}

func (e *Engine) evaluate(ctx context.Context, id string, now time.Time, req *EvaluationRequest) (*entities.Decision, error) {
	if err := req.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", entities.ErrInvalidRequest, err)
		return entities.DenyDecision(id, entities.ReasonInvalidRequest, err.Error(), now), err
	}

	loc, err := e.resolveLocation(req.Context.Timezone)
	if err != nil {
		return entities.DenyDecision(id, entities.ReasonConfigurationError, err.Error(), now), err
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	granted, err := e.hasGrant(evalCtx, req)
	if err != nil {
		return e.failed(evalCtx, id, now, err)
	}
	if !granted {
		out, _ := Combine(false, nil)
		return &entities.Decision{ID: id, Reason: out.Reason, Message: out.Message, EvaluatedAt: now}, nil
	}

	ev := &Evaluation{
		Resource: req.Resource,
		Action:   req.Action,
		Context:  req.Context,
		Now:      now,
		Location: loc,
		Today:    Today(now, loc),
	}

	verdicts := make([]entities.DimensionVerdict, len(e.evaluators))
	g, gctx := errgroup.WithContext(evalCtx)
	for i, evaluator := range e.evaluators {
		g.Go(func() error {
			v, err := evaluator.Evaluate(gctx, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", evaluator.Dimension(), err)
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.failed(evalCtx, id, now, err)
	}

	out, err := Combine(true, verdicts)
	if err != nil {
		return e.failed(evalCtx, id, now, err)
	}
	return &entities.Decision{
		ID:          id,
		Allowed:     out.Allowed,
		Reason:      out.Reason,
		Message:     out.Message,
		EvaluatedAt: now,
		Verdicts:    verdicts,
	}, nil
}

func (e *Engine) hasGrant(ctx context.Context, req *EvaluationRequest) (bool, error) {
	for _, role := range req.Subject.Roles {
		if role == "" {
			continue
		}
		ok, err := e.grants.HasGrant(ctx, role, req.Resource, req.Action)
		if err != nil {
			return false, fmt.Errorf("failed to check grant for role %s: %w", role, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) resolveLocation(name string) (*time.Location, error) {
	if name == "" {
		return e.location, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, entities.NewConfigurationError("timezone", fmt.Sprintf("unknown timezone %q", name))
	}
	return loc, nil
}

// failed classifies err into a reason and returns the matching Deny
func (e *Engine) failed(evalCtx context.Context, id string, now time.Time, err error) (*entities.Decision, error) {
	var reason string
	switch {
	case errors.Is(err, entities.ErrConfiguration):
		reason = entities.ReasonConfigurationError
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(evalCtx.Err(), context.DeadlineExceeded):
		reason = entities.ReasonTimeout
		err = fmt.Errorf("%w: %w", entities.ErrTimeout, err)
	default:
		reason = entities.ReasonStoreUnavailable
		err = fmt.Errorf("%w: %w", entities.ErrStoreUnavailable, err)
	}
	return entities.DenyDecision(id, reason, err.Error(), now), err
}

func (e *Engine) record(ctx context.Context, req *EvaluationRequest, d *entities.Decision) {
	if e.recorder == nil {
		return
	}
	rec := &repositories.DecisionRecord{
		DecisionID:       d.ID,
		SubjectID:        req.Subject.ID,
		Roles:            req.Subject.Roles,
		Resource:         req.Resource,
		Action:           req.Action,
		InstitutionID:    req.Context.InstitutionID,
		PoloID:           req.Context.PoloID,
		InstitutionPhase: req.Context.InstitutionPhase,
		PaymentStatus:    req.Context.PaymentStatus,
		Allowed:          d.Allowed,
		Reason:           d.Reason,
		Message:          d.Message,
		Verdicts:         d.Verdicts,
		EvaluatedAt:      d.EvaluatedAt,
		RecordedAt:       e.clock(),
	}
	// the caller's deadline does not apply to the audit sink
	if err := e.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("failed to record decision",
			zap.String("decision_id", d.ID),
			zap.Error(err),
		)
	}
}
