package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/infrastructure/database"
	"github.com/asakaida/portaria/internal/infrastructure/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFlag string
	pg      *database.Postgres
	zl      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for Portaria",
	Long: `Database migration tool for Portaria.
Manages the rule store and decision log schema using golang-migrate.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupDatabase,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if pg != nil {
			pg.Close()
		}
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
		if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
			zl.Info("no migrations to apply")
			return nil
		} else if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		zl.Info("migration up completed")
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
		steps := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		if err := m.Steps(-steps); errors.Is(err, migrate.ErrNoChange) {
			zl.Info("no migrations to rollback")
			return nil
		} else if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		zl.Info("migration down completed", zap.Int("steps", steps))
		return nil
	}),
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Migrate(uint(version)); errors.Is(err, migrate.ErrNoChange) {
			zl.Info("already at version", zap.Uint64("version", version))
			return nil
		} else if err != nil {
			return fmt.Errorf("migration goto failed: %w", err)
		}
		zl.Info("migration goto completed", zap.Uint64("version", version))
		return nil
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			zl.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		zl.Info("current version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("migration force failed: %w", err)
		}
		zl.Info("migration forced", zap.Int("version", version))
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	rootCmd.AddCommand(upCmd, downCmd, gotoCmd, versionCmd, forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupDatabase(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(envFlag); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zl, err = logger.NewConsole(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	pg, err = database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	zl.Info("connected to database",
		zap.String("env", envFlag),
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)
	return nil
}

// withMigrate opens a migrate instance for the duration of fn
func withMigrate(fn func(m *migrate.Migrate, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		migrationsPath, err := getMigrationsPath()
		if err != nil {
			return err
		}

		m, err := pg.NewMigrate(migrationsPath)
		if err != nil {
			return err
		}
		defer m.Close()

		return fn(m, args)
	}
}

func getMigrationsPath() (string, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	return filepath.Join(projectRoot, database.MigrationsDir), nil
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
