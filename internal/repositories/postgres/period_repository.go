package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/golang-sql/civil"
)

// PostgresPeriodRepository implements PeriodRepository using PostgreSQL
type PostgresPeriodRepository struct {
	db *sql.DB
}

// NewPostgresPeriodRepository creates a new PostgreSQL period repository
func NewPostgresPeriodRepository(db *sql.DB) repositories.PeriodRepository {
	return &PostgresPeriodRepository{db: db}
}

// ListInstances retrieves the period instances of an institution. With a
// polo, instances of that polo are returned along with the institution-wide ones.
func (r *PostgresPeriodRepository) ListInstances(ctx context.Context, institutionID string, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error) {
	query := `
		SELECT id, period_type, institution_id, polo_id, start_date, end_date
		FROM period_instances
		WHERE institution_id = $1 AND period_type = $2 AND (polo_id IS NULL OR polo_id = $3)
		ORDER BY start_date, id
	`
	rows, err := r.db.QueryContext(ctx, query, institutionID, string(periodType), poloID)
	if err != nil {
		return nil, fmt.Errorf("failed to query period instances: %w", err)
	}
	defer rows.Close()

	var instances []*entities.PeriodInstance
	for rows.Next() {
		inst := &entities.PeriodInstance{}
		var pt string
		var polo sql.NullString
		var start, end time.Time
		if err := rows.Scan(&inst.ID, &pt, &inst.InstitutionID, &polo, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan period instance: %w", err)
		}
		inst.PeriodType = entities.PeriodType(pt)
		inst.PoloID = polo.String
		inst.StartDate = civil.DateOf(start)
		inst.EndDate = civil.DateOf(end)
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period instances: %w", err)
	}

	return instances, nil
}
