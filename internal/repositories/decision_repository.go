package repositories

import (
	"context"
	"time"

	"github.com/asakaida/portaria/internal/entities"
)

// DecisionRecord is the audit trail entry written after every evaluation
type DecisionRecord struct {
	DecisionID       string
	SubjectID        string
	Roles            []string
	Resource         string
	Action           string
	InstitutionID    string
	PoloID           string
	InstitutionPhase string
	PaymentStatus    string
	Allowed          bool
	Reason           string
	Message          string
	Verdicts         []entities.DimensionVerdict
	EvaluatedAt      time.Time // the instant the rules were evaluated against
	RecordedAt       time.Time
}

// DecisionRecorder persists decision records. It is an external sink:
// a failing recorder never changes a decision.
type DecisionRecorder interface {
	Record(ctx context.Context, rec *DecisionRecord) error
}
