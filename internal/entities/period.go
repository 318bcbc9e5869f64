package entities

import (
	"fmt"

	"github.com/golang-sql/civil"
)

// PeriodType names a kind of dated period an institution runs
type PeriodType string

const (
	PeriodEnrollment    PeriodType = "enrollment"
	PeriodAcademic      PeriodType = "academic"
	PeriodFinancial     PeriodType = "financial"
	PeriodCertification PeriodType = "certification"
)

// PeriodInstance is one concrete dated interval of a period type,
// e.g. the 2025/1 academic term of an institution.
// StartDate and EndDate are civil dates; both days are inside the period.
type PeriodInstance struct {
	ID            int64
	PeriodType    PeriodType
	InstitutionID string
	PoloID        string // empty = institution-wide
	StartDate     civil.Date
	EndDate       civil.Date
}

// Validate checks the instance invariants. A reversed interval is a
// ConfigurationError.
func (p *PeriodInstance) Validate() error {
	if p.InstitutionID == "" {
		return fmt.Errorf("institution ID is required")
	}
	if p.PeriodType == "" {
		return fmt.Errorf("period type is required")
	}
	if !p.StartDate.IsValid() || !p.EndDate.IsValid() {
		return NewConfigurationError(p.source(), "start and end dates must be valid calendar dates")
	}
	if p.EndDate.Before(p.StartDate) {
		return NewConfigurationError(p.source(),
			fmt.Sprintf("end_date %s is before start_date %s", p.EndDate, p.StartDate))
	}
	return nil
}

// Contains reports whether day falls inside [StartDate, EndDate]
func (p *PeriodInstance) Contains(day civil.Date) bool {
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

// String returns a string representation of the period instance
// Format: period_type@institution[/polo][start..end]
func (p *PeriodInstance) String() string {
	scope := p.InstitutionID
	if p.PoloID != "" {
		scope += "/" + p.PoloID
	}
	return fmt.Sprintf("%s@%s[%s..%s]", p.PeriodType, scope, p.StartDate, p.EndDate)
}

func (p *PeriodInstance) source() string {
	return fmt.Sprintf("period_instance:%d", p.ID)
}

// ResolvedPeriods is the set of instances relevant to an evaluation for one
// period type. Current is set when a period is open today; otherwise Previous
// and Next carry the nearest closed and upcoming instances.
type ResolvedPeriods struct {
	PeriodType PeriodType
	Current    *PeriodInstance
	Previous   *PeriodInstance
	Next       *PeriodInstance
}

// Instances returns the resolved instances in order current, previous, next
func (r *ResolvedPeriods) Instances() []*PeriodInstance {
	out := make([]*PeriodInstance, 0, 3)
	for _, p := range []*PeriodInstance{r.Current, r.Previous, r.Next} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Empty reports whether nothing was resolved
func (r *ResolvedPeriods) Empty() bool {
	return r.Current == nil && r.Previous == nil && r.Next == nil
}
