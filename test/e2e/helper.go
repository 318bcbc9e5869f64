package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asakaida/portaria/internal/bootstrap"
	"github.com/asakaida/portaria/internal/handlers"
	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/infrastructure/database"
	"github.com/asakaida/portaria/internal/repositories/postgres"
	"github.com/asakaida/portaria/internal/repositories/yamlfile"
	"github.com/asakaida/portaria/pkg/cache/memorycache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

// E2ETestServer runs the decision service in memory over the test database
type E2ETestServer struct {
	Server   *grpc.Server
	Conn     *grpc.ClientConn
	DB       *sql.DB
	Writer   *postgres.PostgresRuleWriter
	Listener *bufconn.Listener
}

// SetupE2ETest migrates the test database, imports rulesFile and starts
// the gRPC server. The test is skipped when no database is reachable.
func SetupE2ETest(t *testing.T, rulesFile string) *E2ETestServer {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("skipping e2e test: %v", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("skipping e2e test: %v", err)
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("failed to find project root: %v", err)
	}
	if err := pg.RunMigrations(filepath.Join(projectRoot, database.MigrationsDir)); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	cleanupDatabase(t, pg.DB)

	store, err := yamlfile.Load(rulesFile)
	if err != nil {
		t.Fatalf("failed to load rule file: %v", err)
	}
	writer := postgres.NewPostgresRuleWriter(pg.DB)
	if _, err := writer.Import(context.Background(), store.RuleSet()); err != nil {
		t.Fatalf("failed to import rules: %v", err)
	}

	engineCfg := &config.EngineConfig{
		Timeout:         2 * time.Second,
		DefaultTimezone: "America/Sao_Paulo",
		AuditEnabled:    true,
		GrantBackend:    config.GrantBackendPostgres,
	}
	stores, err := bootstrap.PostgresStores(pg.DB, engineCfg)
	if err != nil {
		t.Fatalf("failed to build stores: %v", err)
	}

	// A short TTL keeps deactivation visible within a test
	ruleCache := memorycache.New(&memorycache.Config{MaxSizeBytes: 8 << 20, EnableMetrics: true})
	engine, err := bootstrap.NewEngine(stores, engineCfg, bootstrap.Options{
		Cache:     ruleCache,
		RuleTTL:   50 * time.Millisecond,
		PeriodTTL: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	handlers.RegisterDecisionServiceServer(server, handlers.NewDecisionHandler(engine))
	go func() {
		if err := server.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}

	return &E2ETestServer{
		Server:   server,
		Conn:     conn,
		DB:       pg.DB,
		Writer:   writer,
		Listener: listener,
	}
}

// Evaluate calls the Evaluate RPC
func (e *E2ETestServer) Evaluate(ctx context.Context, req map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := e.Conn.Invoke(ctx, "/"+handlers.DecisionServiceName+"/Evaluate", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
	if e.DB != nil {
		cleanupDatabase(t, e.DB)
		e.DB.Close()
	}
}

// cleanupDatabase removes all data from test database
func cleanupDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tables := []string{
		"decision_logs", "period_instances", "payment_status_rules",
		"period_rules", "phase_rules", "permission_grants",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
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
