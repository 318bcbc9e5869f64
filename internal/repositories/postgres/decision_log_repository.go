package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/asakaida/portaria/internal/repositories"
	"github.com/lib/pq"
)

// PostgresDecisionLogRepository implements DecisionRecorder using PostgreSQL
type PostgresDecisionLogRepository struct {
	db *sql.DB
}

// NewPostgresDecisionLogRepository creates a new PostgreSQL decision log repository
func NewPostgresDecisionLogRepository(db *sql.DB) *PostgresDecisionLogRepository {
	return &PostgresDecisionLogRepository{db: db}
}

// Record inserts a decision record
func (r *PostgresDecisionLogRepository) Record(ctx context.Context, rec *repositories.DecisionRecord) error {
	verdicts, err := json.Marshal(rec.Verdicts)
	if err != nil {
		return fmt.Errorf("failed to marshal verdicts: %w", err)
	}
	roles := rec.Roles
	if roles == nil {
		roles = []string{}
	}

	query := `
		INSERT INTO decision_logs (
			decision_id, subject_id, roles, resource, action, institution_id, polo_id,
			institution_phase, payment_status, allowed, reason, message, verdicts,
			evaluated_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.DecisionID, rec.SubjectID, pq.Array(roles), rec.Resource, rec.Action,
		rec.InstitutionID, nullString(rec.PoloID), rec.InstitutionPhase, rec.PaymentStatus,
		rec.Allowed, rec.Reason, rec.Message, string(verdicts), rec.EvaluatedAt, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision log: %w", err)
	}
	return nil
}

// FindByID retrieves a decision record
func (r *PostgresDecisionLogRepository) FindByID(ctx context.Context, decisionID string) (*repositories.DecisionRecord, error) {
	query := `
		SELECT decision_id, subject_id, roles, resource, action, institution_id, polo_id,
			institution_phase, payment_status, allowed, reason, message, verdicts,
			evaluated_at, recorded_at
		FROM decision_logs
		WHERE decision_id = $1
	`
	rec := &repositories.DecisionRecord{}
	var polo sql.NullString
	var verdicts string
	err := r.db.QueryRowContext(ctx, query, decisionID).Scan(
		&rec.DecisionID, &rec.SubjectID, pq.Array(&rec.Roles), &rec.Resource, &rec.Action,
		&rec.InstitutionID, &polo, &rec.InstitutionPhase, &rec.PaymentStatus,
		&rec.Allowed, &rec.Reason, &rec.Message, &verdicts, &rec.EvaluatedAt, &rec.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision not found: %s", decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision log: %w", err)
	}
	rec.PoloID = polo.String
	if err := json.Unmarshal([]byte(verdicts), &rec.Verdicts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdicts: %w", err)
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
