package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asakaida/portaria/internal/bootstrap"
	"github.com/asakaida/portaria/internal/handlers"
	"github.com/asakaida/portaria/internal/infrastructure/config"
	"github.com/asakaida/portaria/internal/infrastructure/database"
	"github.com/asakaida/portaria/internal/infrastructure/logger"
	"github.com/asakaida/portaria/internal/infrastructure/metrics"
	"github.com/asakaida/portaria/pkg/cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const defaultEnv = "dev"

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx := context.Background()

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	zl.Info("connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
	)

	stores, err := bootstrap.PostgresStores(pg.DB, &cfg.Engine)
	if err != nil {
		return err
	}

	ruleCache, err := bootstrap.NewCache(ctx, &cfg.Cache, &cfg.Redis)
	if err != nil {
		return err
	}
	if ruleCache != nil {
		defer ruleCache.Close()
	}

	// Metrics
	collector := metrics.NewCollector()
	if ruleCache != nil {
		collector.SetCache(ruleCache)
	}
	exporter := metrics.NewPrometheusExporter(collector, nil)

	engine, err := bootstrap.NewEngine(stores, &cfg.Engine, bootstrap.Options{
		Cache:     ruleCache,
		RuleTTL:   cfg.Cache.RuleTTL,
		PeriodTTL: cfg.Cache.PeriodTTL,
		Logger:    zl.Named("engine"),
		Observer:  metrics.NewDecisionObserver(collector, exporter),
	})
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter)),
	)
	handlers.RegisterDecisionServiceServer(grpcServer, handlers.NewDecisionHandler(engine))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handlers.DecisionServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	zl.Info("gRPC server listening", zap.String("addr", listener.Addr().String()),
		zap.String("cache_backend", cacheBackend(cfg, ruleCache)),
		zap.String("grant_backend", cfg.Engine.GrantBackend),
		zap.Bool("audit", cfg.Engine.AuditEnabled),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Refresh cache gauges and watch the database
	stopBackground := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopBackground:
				return
			case <-ticker.C:
				exporter.Update()
				status := healthpb.HealthCheckResponse_SERVING
				if err := pg.HealthCheck(ctx); err != nil {
					zl.Warn("rule store unhealthy", zap.Error(err))
					status = healthpb.HealthCheckResponse_NOT_SERVING
				}
				healthServer.SetServingStatus(handlers.DecisionServiceName, status)
			}
		}
	}()
	defer close(stopBackground)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		zl.Info("initiating graceful shutdown", zap.String("signal", sig.String()))
	}

	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		zl.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		zl.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("error shutting down metrics server", zap.Error(err))
	}

	zl.Info("shutdown complete")
	return nil
}

func cacheBackend(cfg *config.Config, c cache.Cache) string {
	if c == nil {
		return "disabled"
	}
	return cfg.Cache.Backend
}
