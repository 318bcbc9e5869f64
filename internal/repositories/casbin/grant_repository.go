// Package casbin keeps base role grants as a casbin policy. Lines are
// "p, role, resource, action"; "g, role, parent" lets a role inherit the
// grants of another.
package casbin

import (
	"context"
	"fmt"
	"strings"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

// DefaultModel is the RBAC model used when no model file is configured
const DefaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// GrantRepository implements repositories.GrantRepository with a casbin enforcer
type GrantRepository struct {
	enforcer *casbin.SyncedEnforcer
}

var _ repositories.GrantRepository = (*GrantRepository)(nil)

// NewGrantRepository loads the model (DefaultModel when modelPath is empty)
// and the policy file
func NewGrantRepository(modelPath, policyPath string) (*GrantRepository, error) {
	m, err := loadModel(modelPath)
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &GrantRepository{enforcer: enforcer}, nil
}

// NewGrantRepositoryFromGrants builds an in-memory policy from grants
func NewGrantRepositoryFromGrants(grants []*entities.PermissionGrant) (*GrantRepository, error) {
	m, err := loadModel("")
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	repo := &GrantRepository{enforcer: enforcer}
	for _, g := range grants {
		if err := repo.AddGrant(g); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func loadModel(path string) (model.Model, error) {
	if strings.TrimSpace(path) == "" {
		m, err := model.NewModelFromString(DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("failed to parse casbin model: %w", err)
		}
		return m, nil
	}
	m, err := model.NewModelFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model %s: %w", path, err)
	}
	return m, nil
}

// AddGrant adds a grant to the in-memory policy
func (r *GrantRepository) AddGrant(g *entities.PermissionGrant) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid grant: %w", err)
	}
	if _, err := r.enforcer.AddPolicy(g.Role, g.Resource, g.Action); err != nil {
		return fmt.Errorf("failed to add grant: %w", err)
	}
	return nil
}

// AddRoleInheritance makes role inherit every grant of parent
func (r *GrantRepository) AddRoleInheritance(role, parent string) error {
	if _, err := r.enforcer.AddGroupingPolicy(role, parent); err != nil {
		return fmt.Errorf("failed to add role inheritance: %w", err)
	}
	return nil
}

// HasGrant implements repositories.GrantRepository
func (r *GrantRepository) HasGrant(ctx context.Context, role, resource, action string) (bool, error) {
	ok, err := r.enforcer.Enforce(role, resource, action)
	if err != nil {
		return false, fmt.Errorf("failed to enforce casbin policy: %w", err)
	}
	return ok, nil
}

// Reload re-reads the policy from the adapter
func (r *GrantRepository) Reload() error {
	if err := r.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to reload casbin policy: %w", err)
	}
	return nil
}
