package logger

import (
	"context"
	"testing"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{" error ", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"verbose", zap.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	log, err := New("warn")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.Core().Enabled(zap.InfoLevel) {
		t.Error("New(warn) logger should not enable info")
	}
	if !log.Core().Enabled(zap.WarnLevel) {
		t.Error("New(warn) logger should enable warn")
	}
}

func TestDecisionRecorder_Record(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := NewDecisionRecorder(zap.New(core))

	err := rec.Record(context.Background(), &repositories.DecisionRecord{
		DecisionID:    "d-1",
		SubjectID:     "user-1",
		Roles:         []string{"aluno"},
		Resource:      "matricula",
		Action:        "criar",
		InstitutionID: "inst-1",
		PoloID:        "polo-9",
		Reason:        entities.ReasonPhaseDeny,
		Message:       "phase suspended is denied",
		Verdicts: []entities.DimensionVerdict{
			{Dimension: entities.DimensionPhase, Verdict: entities.Deny},
		},
		EvaluatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Record() wrote %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["reason"] != entities.ReasonPhaseDeny || fields["polo_id"] != "polo-9" {
		t.Errorf("Record() fields = %v, want reason PHASE_DENY and polo_id polo-9", fields)
	}
	if fields["verdict_phase"] != "deny" {
		t.Errorf("Record() verdict_phase = %v, want deny", fields["verdict_phase"])
	}
	if entries[0].LoggerName != "decisions" {
		t.Errorf("Record() logger name = %q, want decisions", entries[0].LoggerName)
	}
}
