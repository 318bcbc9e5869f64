package policy

import (
	"context"
	"sync"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
)

// mockRuleRepository is an in-memory RuleRepository.
// Inactive rules are filtered the same way the stores do.
type mockRuleRepository struct {
	mu           sync.Mutex
	phaseRules   []*entities.PhaseRule
	periodRules  []*entities.PeriodRule
	paymentRules []*entities.PaymentStatusRule
	err          error
	block        bool // wait for ctx cancellation before answering
	calls        int
}

func (m *mockRuleRepository) enter(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	block, err := m.block, m.err
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *mockRuleRepository) FindPhaseRules(ctx context.Context, resource, action string) ([]*entities.PhaseRule, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	var out []*entities.PhaseRule
	for _, r := range m.phaseRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepository) FindPeriodRules(ctx context.Context, resource, action string, periodType entities.PeriodType) ([]*entities.PeriodRule, error) {
	all, err := m.FindPeriodRulesByAction(ctx, resource, action)
	if err != nil {
		return nil, err
	}
	var out []*entities.PeriodRule
	for _, r := range all {
		if r.PeriodType == periodType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepository) FindPeriodRulesByAction(ctx context.Context, resource, action string) ([]*entities.PeriodRule, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	var out []*entities.PeriodRule
	for _, r := range m.periodRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepository) FindPaymentRules(ctx context.Context, resource, action string) ([]*entities.PaymentStatusRule, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	var out []*entities.PaymentStatusRule
	for _, r := range m.paymentRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockGrantRepository grants role/resource/action triples
type mockGrantRepository struct {
	grants map[string]bool
	err    error
}

func newMockGrantRepository(grants ...entities.PermissionGrant) *mockGrantRepository {
	m := &mockGrantRepository{grants: make(map[string]bool)}
	for _, g := range grants {
		m.grants[g.Role+"|"+g.Resource+"|"+g.Action] = true
	}
	return m
}

func (m *mockGrantRepository) HasGrant(ctx context.Context, role, resource, action string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.grants[role+"|"+resource+"|"+action], nil
}

// mockPeriodRepository returns instances the way the stores do: polo-scoped
// and institution-wide together when a polo is given.
type mockPeriodRepository struct {
	mu        sync.Mutex
	instances []*entities.PeriodInstance
	err       error
	calls     int
}

func (m *mockPeriodRepository) ListInstances(ctx context.Context, institutionID, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*entities.PeriodInstance
	for _, inst := range m.instances {
		if inst.InstitutionID != institutionID || inst.PeriodType != periodType {
			continue
		}
		if inst.PoloID == "" || inst.PoloID == poloID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *mockPeriodRepository) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []*repositories.DecisionRecord
	err     error
}

func (r *recordingRecorder) Record(ctx context.Context, rec *repositories.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}
