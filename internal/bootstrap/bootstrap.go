// Package bootstrap assembles the engine from configuration. The server
// and the command line tools share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/repositories"
	"github.com/asakaida/portaria/internal/repositories/cached"
	"github.com/asakaida/portaria/internal/repositories/casbin"
	"github.com/asakaida/portaria/internal/repositories/postgres"
	"github.com/asakaida/portaria/internal/repositories/yamlfile"
	"github.com/asakaida/portaria/internal/services/policy"
	"github.com/asakaida/portaria/pkg/cache"
	"github.com/asakaida/portaria/pkg/cache/memorycache"
	"github.com/asakaida/portaria/pkg/cache/rediscache"
	"go.uber.org/zap"
)

// Stores are the rule sources behind one engine
type Stores struct {
	Rules    repositories.RuleRepository
	Grants   repositories.GrantRepository
	Periods  repositories.PeriodRepository
	Recorder repositories.DecisionRecorder // nil = no audit trail
}

// NewCache builds the configured cache backend. It returns nil when
// caching is disabled.
func NewCache(ctx context.Context, cfg *config.CacheConfig, redisCfg *config.RedisConfig) (cache.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case config.CacheBackendRedis:
		c, err := rediscache.New(ctx, &rediscache.Config{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			Prefix:   "portaria:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		return c, nil
	case config.CacheBackendMemory, "":
		return memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.MaxMemoryBytes,
			EnableMetrics: cfg.Metrics,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// PostgresStores builds stores over the rule database. Grants come from
// casbin instead when GRANT_BACKEND=casbin.
func PostgresStores(db *sql.DB, engineCfg *config.EngineConfig) (*Stores, error) {
	stores := &Stores{
		Rules:   postgres.NewPostgresRuleRepository(db),
		Grants:  postgres.NewPostgresGrantRepository(db),
		Periods: postgres.NewPostgresPeriodRepository(db),
	}

	if engineCfg.GrantBackend == config.GrantBackendCasbin {
		grants, err := casbin.NewGrantRepository(engineCfg.CasbinModelPath, engineCfg.CasbinPolicyPath)
		if err != nil {
			return nil, err
		}
		stores.Grants = grants
	}
	if engineCfg.AuditEnabled {
		stores.Recorder = postgres.NewPostgresDecisionLogRepository(db)
	}
	return stores, nil
}

// Options tune NewEngine
type Options struct {
	Cache     cache.Cache // nil = no caching
	RuleTTL   time.Duration
	PeriodTTL time.Duration
	Logger    *zap.Logger
	Observer  policy.DecisionObserver
	Clock     func() time.Time
}

// NewEngine wires the stores, the cache decorators and the period
// resolver into an engine
func NewEngine(stores *Stores, engineCfg *config.EngineConfig, opts Options) (*policy.Engine, error) {
	loc, err := engineCfg.Location()
	if err != nil {
		return nil, err
	}

	rules, grants := stores.Rules, stores.Grants
	if opts.Cache != nil {
		rules = cached.NewRuleRepository(rules, opts.Cache, opts.RuleTTL)
		grants = cached.NewGrantRepository(grants, opts.Cache, opts.RuleTTL)
	}
	resolver := policy.NewPeriodResolver(stores.Periods, opts.Cache, opts.PeriodTTL)

	engineConfig := &policy.EngineConfig{
		Timeout:         engineCfg.Timeout,
		DefaultLocation: loc,
		Logger:          opts.Logger,
		Recorder:        stores.Recorder,
		Observer:        opts.Observer,
		Clock:           opts.Clock,
	}
	return policy.NewEngine(rules, grants, resolver, engineConfig), nil
}

// FileStores builds stores over a YAML rule file
func FileStores(path string, engineCfg *config.EngineConfig) (*Stores, *yamlfile.Store, error) {
	store, err := yamlfile.Load(path)
	if err != nil {
		return nil, nil, err
	}

	stores := &Stores{Rules: store, Grants: store, Periods: store}
	if engineCfg.GrantBackend == config.GrantBackendCasbin {
		grants, err := casbin.NewGrantRepository(engineCfg.CasbinModelPath, engineCfg.CasbinPolicyPath)
		if err != nil {
			return nil, nil, err
		}
		stores.Grants = grants
	}
	return stores, store, nil
}
