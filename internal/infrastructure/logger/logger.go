// Package logger builds the zap loggers used by the server and tools.
//
// The level comes from LOG_LEVEL (debug, info, warn, error). Unknown
// levels fall back to info.
package logger

import (
	"context"
	"strings"

	"github.com/asakaida/portaria/internal/repositories"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON production logger at the given level
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewConsole builds a human-readable logger for command line tools
func NewConsole(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// ParseLevel maps a level name to a zap level
func ParseLevel(level string) zapcore.Level {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zap.InfoLevel
	}
	return zapLevel
}

// DecisionRecorder writes decision records as structured log entries
type DecisionRecorder struct {
	log *zap.Logger
}

// NewDecisionRecorder creates a recorder that logs every decision at info level
func NewDecisionRecorder(log *zap.Logger) repositories.DecisionRecorder {
	return &DecisionRecorder{log: log.Named("decisions")}
}

// Record logs a decision record
func (r *DecisionRecorder) Record(_ context.Context, rec *repositories.DecisionRecord) error {
	fields := []zap.Field{
		zap.String("decision_id", rec.DecisionID),
		zap.String("subject_id", rec.SubjectID),
		zap.Strings("roles", rec.Roles),
		zap.String("resource", rec.Resource),
		zap.String("action", rec.Action),
		zap.String("institution_id", rec.InstitutionID),
		zap.Bool("allowed", rec.Allowed),
		zap.String("reason", rec.Reason),
		zap.Time("evaluated_at", rec.EvaluatedAt),
	}
	if rec.PoloID != "" {
		fields = append(fields, zap.String("polo_id", rec.PoloID))
	}
	for _, v := range rec.Verdicts {
		fields = append(fields, zap.String("verdict_"+string(v.Dimension), v.Verdict.String()))
	}
	r.log.Info(rec.Message, fields...)
	return nil
}
