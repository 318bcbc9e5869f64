package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Log      LogConfig
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled        bool
	Backend        string // memory or redis
	MaxMemoryBytes int64  // Maximum memory usage of the in-process cache (e.g., 104857600 = 100MB)
	Metrics        bool
	RuleTTL        time.Duration
	PeriodTTL      time.Duration
}

// RedisConfig represents the shared cache connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Grant backends
const (
	GrantBackendPostgres = "postgres"
	GrantBackendCasbin   = "casbin"
)

// EngineConfig represents evaluation settings
type EngineConfig struct {
	Timeout          time.Duration
	DefaultTimezone  string
	AuditEnabled     bool
	GrantBackend     string // postgres or casbin
	CasbinModelPath  string // empty = built-in RBAC model
	CasbinPolicyPath string
}

// Location returns the default timezone
func (c *EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	return loc, nil
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Outside a source checkout only environment variables apply
	if projectRoot, err := findProjectRoot(); err == nil {
		viper.SetConfigName(fmt.Sprintf(".env.%s", env))
		viper.SetConfigType("env")
		viper.AddConfigPath(projectRoot)

		// Read config file (optional, ignore error if not found)
		_ = viper.ReadInConfig()
	}

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 50051)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "portaria")
	viper.SetDefault("DB_NAME", "portaria_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_BACKEND", CacheBackendMemory)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 64*1024*1024) // 64MB
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("RULE_CACHE_TTL_SECONDS", 60)
	viper.SetDefault("PERIOD_CACHE_TTL_SECONDS", 300)

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)

	// Engine defaults
	viper.SetDefault("EVALUATION_TIMEOUT_MS", 2000)
	viper.SetDefault("DEFAULT_TIMEZONE", "America/Sao_Paulo")
	viper.SetDefault("AUDIT_ENABLED", false)
	viper.SetDefault("GRANT_BACKEND", GrantBackendPostgres)
	viper.SetDefault("CASBIN_POLICY_PATH", "grants.csv")

	viper.SetDefault("LOG_LEVEL", "info")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	engine, err := LoadEngine()
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: dbPassword,
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			Backend:        strings.ToLower(viper.GetString("CACHE_BACKEND")),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			RuleTTL:        time.Duration(viper.GetInt("RULE_CACHE_TTL_SECONDS")) * time.Second,
			PeriodTTL:      time.Duration(viper.GetInt("PERIOD_CACHE_TTL_SECONDS")) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Engine: *engine,
		Log:    LoadLog(),
	}

	switch config.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return nil, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, config.Cache.Backend)
	}

	return config, nil
}

// LoadEngine loads only the evaluation settings. Tools that evaluate
// against a rule file use it without a database.
func LoadEngine() (*EngineConfig, error) {
	engine := &EngineConfig{
		Timeout:          time.Duration(viper.GetInt("EVALUATION_TIMEOUT_MS")) * time.Millisecond,
		DefaultTimezone:  viper.GetString("DEFAULT_TIMEZONE"),
		AuditEnabled:     viper.GetBool("AUDIT_ENABLED"),
		GrantBackend:     strings.ToLower(viper.GetString("GRANT_BACKEND")),
		CasbinModelPath:  viper.GetString("CASBIN_MODEL_PATH"),
		CasbinPolicyPath: viper.GetString("CASBIN_POLICY_PATH"),
	}

	if engine.Timeout <= 0 {
		return nil, fmt.Errorf("EVALUATION_TIMEOUT_MS must be positive")
	}
	if _, err := engine.Location(); err != nil {
		return nil, err
	}
	switch engine.GrantBackend {
	case GrantBackendPostgres, GrantBackendCasbin:
	default:
		return nil, fmt.Errorf("GRANT_BACKEND must be %q or %q, got %q", GrantBackendPostgres, GrantBackendCasbin, engine.GrantBackend)
	}

	return engine, nil
}

// LoadLog loads logging configuration
func LoadLog() LogConfig {
	return LogConfig{Level: viper.GetString("LOG_LEVEL")}
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
