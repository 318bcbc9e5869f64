// Package yamlfile implements the rule, grant and period repositories over
// an immutable rule set read from a YAML document.
package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/golang-sql/civil"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only rule file version understood
const SupportedVersion = 1

type document struct {
	Version      int           `yaml:"version"`
	Grants       []grantDoc    `yaml:"grants"`
	PhaseRules   []phaseDoc    `yaml:"phase_rules"`
	PeriodRules  []periodDoc   `yaml:"period_rules"`
	PaymentRules []paymentDoc  `yaml:"payment_rules"`
	Periods      []instanceDoc `yaml:"periods"`
}

type grantDoc struct {
	Role     string `yaml:"role"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

type phaseDoc struct {
	ID          int64  `yaml:"id"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Phase       string `yaml:"phase"`
	Allowed     bool   `yaml:"allowed"`
	Active      *bool  `yaml:"active"`
	Description string `yaml:"description"`
}

type periodDoc struct {
	ID              int64  `yaml:"id"`
	Resource        string `yaml:"resource"`
	Action          string `yaml:"action"`
	PeriodType      string `yaml:"period_type"`
	DaysBeforeStart int    `yaml:"days_before_start"`
	DaysAfterEnd    int    `yaml:"days_after_end"`
	Active          *bool  `yaml:"active"`
	Description     string `yaml:"description"`
}

type paymentDoc struct {
	ID            int64  `yaml:"id"`
	Resource      string `yaml:"resource"`
	Action        string `yaml:"action"`
	PaymentStatus string `yaml:"payment_status"`
	Allowed       bool   `yaml:"allowed"`
	Active        *bool  `yaml:"active"`
	Description   string `yaml:"description"`
}

type instanceDoc struct {
	ID            int64    `yaml:"id"`
	PeriodType    string   `yaml:"period_type"`
	InstitutionID string   `yaml:"institution_id"`
	PoloID        string   `yaml:"polo_id"`
	StartDate     yamlDate `yaml:"start_date"`
	EndDate       yamlDate `yaml:"end_date"`
}

// yamlDate reads a YYYY-MM-DD scalar whether or not YAML resolved it as a timestamp
type yamlDate struct {
	civil.Date
}

func (d *yamlDate) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := civil.ParseDate(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid date %q: want YYYY-MM-DD", node.Line, node.Value)
	}
	d.Date = parsed
	return nil
}

func active(flag *bool) bool {
	return flag == nil || *flag
}

// Store serves a RuleSet through the repository interfaces
type Store struct {
	set *repositories.RuleSet
}

var (
	_ repositories.RuleRepository   = (*Store)(nil)
	_ repositories.GrantRepository  = (*Store)(nil)
	_ repositories.PeriodRepository = (*Store)(nil)
)

// Load reads and parses a rule file
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return Parse(b)
}

// Parse parses a rule document. Missing keys and malformed dates are
// rejected; value-level problems such as negative offsets are left for
// Validate and for evaluation, which reports them as configuration errors.
func Parse(b []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if doc.Version != SupportedVersion {
		return nil, fmt.Errorf("rule file: unsupported version %d", doc.Version)
	}

	set := &repositories.RuleSet{}
	var errs []error
	for i, g := range doc.Grants {
		grant := &entities.PermissionGrant{Role: g.Role, Resource: g.Resource, Action: g.Action}
		if err := grant.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("grants[%d]: %w", i, err))
			continue
		}
		set.Grants = append(set.Grants, grant)
	}
	for i, r := range doc.PhaseRules {
		rule := &entities.PhaseRule{
			ID: r.ID, Resource: r.Resource, Action: r.Action, Phase: r.Phase,
			IsAllowed: r.Allowed, IsActive: active(r.Active), Description: r.Description,
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("phase_rules[%d]: %w", i, err))
			continue
		}
		set.PhaseRules = append(set.PhaseRules, rule)
	}
	for i, r := range doc.PeriodRules {
		if r.Resource == "" || r.Action == "" || r.PeriodType == "" {
			errs = append(errs, fmt.Errorf("period_rules[%d]: resource, action and period_type are required", i))
			continue
		}
		set.PeriodRules = append(set.PeriodRules, &entities.PeriodRule{
			ID: r.ID, Resource: r.Resource, Action: r.Action, PeriodType: entities.PeriodType(r.PeriodType),
			DaysBeforeStart: r.DaysBeforeStart, DaysAfterEnd: r.DaysAfterEnd,
			IsActive: active(r.Active), Description: r.Description,
		})
	}
	for i, r := range doc.PaymentRules {
		rule := &entities.PaymentStatusRule{
			ID: r.ID, Resource: r.Resource, Action: r.Action, PaymentStatus: r.PaymentStatus,
			IsAllowed: r.Allowed, IsActive: active(r.Active), Description: r.Description,
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("payment_rules[%d]: %w", i, err))
			continue
		}
		set.PaymentRules = append(set.PaymentRules, rule)
	}
	for i, p := range doc.Periods {
		if p.InstitutionID == "" || p.PeriodType == "" {
			errs = append(errs, fmt.Errorf("periods[%d]: institution_id and period_type are required", i))
			continue
		}
		set.Periods = append(set.Periods, &entities.PeriodInstance{
			ID: p.ID, PeriodType: entities.PeriodType(p.PeriodType),
			InstitutionID: p.InstitutionID, PoloID: p.PoloID,
			StartDate: p.StartDate.Date, EndDate: p.EndDate.Date,
		})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid rule file: %w", errors.Join(errs...))
	}

	return &Store{set: set}, nil
}

// NewStore serves an already built rule set
func NewStore(set *repositories.RuleSet) *Store {
	return &Store{set: set}
}

// RuleSet returns the parsed rules
func (s *Store) RuleSet() *repositories.RuleSet {
	return s.set
}

// Validate reports every rule and period that evaluation would reject
func (s *Store) Validate() error {
	var errs []error
	for _, r := range s.set.PeriodRules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range s.set.Periods {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FindPhaseRules implements repositories.RuleRepository
func (s *Store) FindPhaseRules(ctx context.Context, resource, action string) ([]*entities.PhaseRule, error) {
	var out []*entities.PhaseRule
	for _, r := range s.set.PhaseRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindPeriodRules implements repositories.RuleRepository
func (s *Store) FindPeriodRules(ctx context.Context, resource, action string, periodType entities.PeriodType) ([]*entities.PeriodRule, error) {
	var out []*entities.PeriodRule
	for _, r := range s.set.PeriodRules {
		if r.IsActive && r.Resource == resource && r.Action == action && r.PeriodType == periodType {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindPeriodRulesByAction implements repositories.RuleRepository
func (s *Store) FindPeriodRulesByAction(ctx context.Context, resource, action string) ([]*entities.PeriodRule, error) {
	var out []*entities.PeriodRule
	for _, r := range s.set.PeriodRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindPaymentRules implements repositories.RuleRepository
func (s *Store) FindPaymentRules(ctx context.Context, resource, action string) ([]*entities.PaymentStatusRule, error) {
	var out []*entities.PaymentStatusRule
	for _, r := range s.set.PaymentRules {
		if r.IsActive && r.Resource == resource && r.Action == action {
			out = append(out, r)
		}
	}
	return out, nil
}

// HasGrant implements repositories.GrantRepository
func (s *Store) HasGrant(ctx context.Context, role, resource, action string) (bool, error) {
	for _, g := range s.set.Grants {
		if g.Role == role && g.Resource == resource && g.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// ListInstances implements repositories.PeriodRepository
func (s *Store) ListInstances(ctx context.Context, institutionID, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error) {
	var out []*entities.PeriodInstance
	for _, p := range s.set.Periods {
		if p.InstitutionID != institutionID || p.PeriodType != periodType {
			continue
		}
		if p.PoloID == "" || (poloID != "" && p.PoloID == poloID) {
			out = append(out, p)
		}
	}
	return out, nil
}
