package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/asakaida/portaria/pkg/cache"
	"github.com/golang-sql/civil"
	"golang.org/x/sync/singleflight"
)

// DefaultPeriodCacheTTL is how long instance lists stay cached
const DefaultPeriodCacheTTL = 5 * time.Minute

// DefaultPeriodLoadTimeout bounds one shared instance list load
const DefaultPeriodLoadTimeout = 5 * time.Second

// PeriodResolver finds the current, previous and next period instances for
// an institution (optionally a polo) and period type.
type PeriodResolver struct {
	repo        repositories.PeriodRepository
	cache       cache.Cache
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
}

// NewPeriodResolver creates a resolver. cache may be nil to disable caching.
func NewPeriodResolver(repo repositories.PeriodRepository, c cache.Cache, ttl time.Duration) *PeriodResolver {
	if ttl <= 0 {
		ttl = DefaultPeriodCacheTTL
	}
	return &PeriodResolver{repo: repo, cache: c, ttl: ttl, loadTimeout: DefaultPeriodLoadTimeout}
}

// Resolve returns the instances relevant on today. Polo-scoped instances
// replace institution-wide ones when the polo has any of its own.
func (r *PeriodResolver) Resolve(ctx context.Context, institutionID, poloID string, periodType entities.PeriodType, today civil.Date) (*entities.ResolvedPeriods, error) {
	instances, err := r.instances(ctx, institutionID, poloID, periodType)
	if err != nil {
		return nil, err
	}

	candidates := scopeCandidates(instances, poloID)
	for _, inst := range candidates {
		if err := inst.Validate(); err != nil {
			return nil, err
		}
	}

	return resolve(periodType, candidates, today), nil
}

// instances loads the stored instances once for all concurrent callers of
// the same key. The load runs detached from any single caller under its own
// timeout; each caller returns when its own context is done.
func (r *PeriodResolver) instances(ctx context.Context, institutionID, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error) {
	key := cache.Key("periods", institutionID, poloID, string(periodType))

	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var cached []*entities.PeriodInstance
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		list, err := r.repo.ListInstances(loadCtx, institutionID, poloID, periodType)
		if err != nil {
			return nil, fmt.Errorf("failed to list period instances: %w", err)
		}
		if r.cache != nil {
			if raw, err := json.Marshal(list); err == nil {
				// a cache write failure only costs a future round trip
				_ = r.cache.Set(loadCtx, key, raw, r.ttl)
			}
		}
		return list, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to list period instances: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*entities.PeriodInstance), nil
	}
}

func scopeCandidates(instances []*entities.PeriodInstance, poloID string) []*entities.PeriodInstance {
	var polo, institution []*entities.PeriodInstance
	for _, inst := range instances {
		switch {
		case inst.PoloID == "":
			institution = append(institution, inst)
		case poloID != "" && inst.PoloID == poloID:
			polo = append(polo, inst)
		}
	}
	if len(polo) > 0 {
		return polo
	}
	return institution
}

func resolve(periodType entities.PeriodType, candidates []*entities.PeriodInstance, today civil.Date) *entities.ResolvedPeriods {
	out := &entities.ResolvedPeriods{PeriodType: periodType}

	for _, inst := range candidates {
		if inst.Contains(today) && preferCurrent(inst, out.Current) {
			out.Current = inst
		}
	}
	if out.Current != nil {
		return out
	}

	for _, inst := range candidates {
		switch {
		case inst.EndDate.Before(today):
			if preferPrevious(inst, out.Previous) {
				out.Previous = inst
			}
		case inst.StartDate.After(today):
			if preferNext(inst, out.Next) {
				out.Next = inst
			}
		}
	}
	return out
}

// latest start, then earliest end, then lowest id
func preferCurrent(a, b *entities.PeriodInstance) bool {
	if b == nil {
		return true
	}
	if a.StartDate != b.StartDate {
		return a.StartDate.After(b.StartDate)
	}
	if a.EndDate != b.EndDate {
		return a.EndDate.Before(b.EndDate)
	}
	return a.ID < b.ID
}

// latest end, then latest start, then lowest id
func preferPrevious(a, b *entities.PeriodInstance) bool {
	if b == nil {
		return true
	}
	if a.EndDate != b.EndDate {
		return a.EndDate.After(b.EndDate)
	}
	if a.StartDate != b.StartDate {
		return a.StartDate.After(b.StartDate)
	}
	return a.ID < b.ID
}

// earliest start, then earliest end, then lowest id
func preferNext(a, b *entities.PeriodInstance) bool {
	if b == nil {
		return true
	}
	if a.StartDate != b.StartDate {
		return a.StartDate.Before(b.StartDate)
	}
	if a.EndDate != b.EndDate {
		return a.EndDate.Before(b.EndDate)
	}
	return a.ID < b.ID
}
