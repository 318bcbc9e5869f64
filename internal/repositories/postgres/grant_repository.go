package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/portaria/internal/repositories"
)

// PostgresGrantRepository implements GrantRepository using PostgreSQL
type PostgresGrantRepository struct {
	db *sql.DB
}

// NewPostgresGrantRepository creates a new PostgreSQL grant repository
func NewPostgresGrantRepository(db *sql.DB) repositories.GrantRepository {
	return &PostgresGrantRepository{db: db}
}

// HasGrant reports whether role may perform action on resource
func (r *PostgresGrantRepository) HasGrant(ctx context.Context, role string, resource string, action string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM permission_grants
			WHERE role = $1 AND resource = $2 AND action = $3
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, role, resource, action).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check permission grant: %w", err)
	}
	return exists, nil
}
