package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/google/uuid"
)

func TestPostgresDecisionLogRepository_RecordAndFind(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresDecisionLogRepository(db)
	ctx := context.Background()
	evaluatedAt := time.Date(2025, 2, 12, 9, 0, 0, 0, time.UTC)

	rec := &repositories.DecisionRecord{
		DecisionID:       uuid.NewString(),
		SubjectID:        "user-1",
		Roles:            []string{"secretaria", "aluno"},
		Resource:         "matricula",
		Action:           "criar",
		InstitutionID:    "inst-1",
		InstitutionPhase: entities.PhaseActive,
		PaymentStatus:    entities.PaymentOverdue,
		Allowed:          false,
		Reason:           entities.ReasonPaymentDeny,
		Message:          "payment_status overdue is denied",
		Verdicts: []entities.DimensionVerdict{
			{Dimension: entities.DimensionPayment, Verdict: entities.Deny, RuleIDs: []int64{11}},
		},
		EvaluatedAt: evaluatedAt,
		RecordedAt:  evaluatedAt.Add(time.Millisecond),
	}
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.FindByID(ctx, rec.DecisionID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Reason != rec.Reason || got.Allowed || got.PoloID != "" || len(got.Roles) != 2 {
		t.Errorf("FindByID() = %+v, want %+v", got, rec)
	}
	if !got.EvaluatedAt.Equal(evaluatedAt) {
		t.Errorf("FindByID() evaluatedAt = %v, want %v", got.EvaluatedAt, evaluatedAt)
	}
	if len(got.Verdicts) != 1 || got.Verdicts[0].Verdict != entities.Deny || got.Verdicts[0].RuleIDs[0] != 11 {
		t.Errorf("FindByID() verdicts = %+v, want payment deny by rule 11", got.Verdicts)
	}

	if _, err := repo.FindByID(ctx, uuid.NewString()); err == nil {
		t.Error("FindByID() for unknown decision should return error")
	}
}
