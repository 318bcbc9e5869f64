package policy

import (
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/golang-sql/civil"
)

// Today returns the civil date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(now.In(loc))
}

// WindowBounds returns the first and last civil day on which rule permits
// the action for the given instance. Offsets are applied as calendar days so
// a DST change inside the window does not move the bounds.
func WindowBounds(rule *entities.PeriodRule, instance *entities.PeriodInstance) (civil.Date, civil.Date) {
	lower := instance.StartDate.AddDays(-rule.DaysBeforeStart)
	upper := instance.EndDate.AddDays(rule.DaysAfterEnd)
	return lower, upper
}

// InWindow reports whether now, seen in loc, falls inside the rule's window
// around instance. The window opens at local midnight of its first day and
// closes at the end of its last day.
func InWindow(rule *entities.PeriodRule, instance *entities.PeriodInstance, now time.Time, loc *time.Location) bool {
	return dayInWindow(rule, instance, Today(now, loc))
}

func dayInWindow(rule *entities.PeriodRule, instance *entities.PeriodInstance, today civil.Date) bool {
	lower, upper := WindowBounds(rule, instance)
	return !today.Before(lower) && !today.After(upper)
}
