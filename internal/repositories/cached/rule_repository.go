// Package cached provides TTL caching decorators over the rule and grant
// repositories. Values are stored JSON-encoded so any pkg/cache backend
// works, including a shared Redis.
package cached

import (
	"context"
	"encoding/json"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/asakaida/portaria/pkg/cache"
)

// DefaultRuleTTL is how long rule lookups stay cached
const DefaultRuleTTL = time.Minute

// RuleRepository caches the results of another RuleRepository
type RuleRepository struct {
	inner repositories.RuleRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewRuleRepository wraps inner with a TTL cache
func NewRuleRepository(inner repositories.RuleRepository, c cache.Cache, ttl time.Duration) repositories.RuleRepository {
	if ttl <= 0 {
		ttl = DefaultRuleTTL
	}
	return &RuleRepository{inner: inner, cache: c, ttl: ttl}
}

// FindPhaseRules implements repositories.RuleRepository
func (r *RuleRepository) FindPhaseRules(ctx context.Context, resource, action string) ([]*entities.PhaseRule, error) {
	return lookup(ctx, r.cache, r.ttl, cacheKey("phase", resource, action), func() ([]*entities.PhaseRule, error) {
		return r.inner.FindPhaseRules(ctx, resource, action)
	})
}

// FindPeriodRules implements repositories.RuleRepository
func (r *RuleRepository) FindPeriodRules(ctx context.Context, resource, action string, periodType entities.PeriodType) ([]*entities.PeriodRule, error) {
	return lookup(ctx, r.cache, r.ttl, cacheKey("period", resource, action, string(periodType)), func() ([]*entities.PeriodRule, error) {
		return r.inner.FindPeriodRules(ctx, resource, action, periodType)
	})
}

// FindPeriodRulesByAction implements repositories.RuleRepository
func (r *RuleRepository) FindPeriodRulesByAction(ctx context.Context, resource, action string) ([]*entities.PeriodRule, error) {
	return lookup(ctx, r.cache, r.ttl, cacheKey("period", resource, action, "*"), func() ([]*entities.PeriodRule, error) {
		return r.inner.FindPeriodRulesByAction(ctx, resource, action)
	})
}

// FindPaymentRules implements repositories.RuleRepository
func (r *RuleRepository) FindPaymentRules(ctx context.Context, resource, action string) ([]*entities.PaymentStatusRule, error) {
	return lookup(ctx, r.cache, r.ttl, cacheKey("payment", resource, action), func() ([]*entities.PaymentStatusRule, error) {
		return r.inner.FindPaymentRules(ctx, resource, action)
	})
}

// GrantRepository caches the results of another GrantRepository
type GrantRepository struct {
	inner repositories.GrantRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewGrantRepository wraps inner with a TTL cache
func NewGrantRepository(inner repositories.GrantRepository, c cache.Cache, ttl time.Duration) repositories.GrantRepository {
	if ttl <= 0 {
		ttl = DefaultRuleTTL
	}
	return &GrantRepository{inner: inner, cache: c, ttl: ttl}
}

// HasGrant implements repositories.GrantRepository
func (g *GrantRepository) HasGrant(ctx context.Context, role, resource, action string) (bool, error) {
	return lookup(ctx, g.cache, g.ttl, cacheKey("grant", role, resource, action), func() (bool, error) {
		return g.inner.HasGrant(ctx, role, resource, action)
	})
}

// lookup returns the cached value for key or loads and caches it.
// Errors are never cached.
func lookup[T any](ctx context.Context, c cache.Cache, ttl time.Duration, key string, load func() (T, error)) (T, error) {
	if raw, found := c.Get(ctx, key); found {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	if raw, err := json.Marshal(v); err == nil {
		// a failed write only means the next lookup goes to the store
		_ = c.Set(ctx, key, raw, ttl)
	}
	return v, nil
}

// cacheKey builds a short key from the lookup parameters
func cacheKey(kind string, parts ...string) string {
	return cache.Key("rules:"+kind, parts...)
}
