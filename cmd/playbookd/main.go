// Package main is the entry point for the playbook execution server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/halcyonix/playbook/internal/budget"
	"github.com/halcyonix/playbook/internal/config"
	"github.com/halcyonix/playbook/internal/definition"
	"github.com/halcyonix/playbook/internal/engine"
	"github.com/halcyonix/playbook/internal/llm"
	"github.com/halcyonix/playbook/internal/observability"
	"github.com/halcyonix/playbook/internal/step"
	"github.com/halcyonix/playbook/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "playbookd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load playbook and prompt definitions, validate, build registry.
	loader := definition.NewLoader()
	playbooks, prompts, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(playbooks, prompts)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(playbooks, prompts)
	metrics.SetPlaybooksLoaded(float64(len(registry.AllPlaybooks())))

	// Step 5: Initialize the execution store.
	store, storeCloser, err := buildExecutionStore(ctx, cfg.Engine.Store, logger)
	if err != nil {
		logger.Error("execution store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build the LLM client and budget guard.
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	llmClient, err := llm.NewAnthropicClient(llm.AnthropicOptions{
		APIKey:       apiKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
	})
	if err != nil {
		logger.Error("llm client initialization failed", zap.Error(err))
		return 1
	}

	var guard step.BudgetGuard
	if cfg.Budget.Enabled {
		guard = budget.NewStaticGuard(cfg.Budget.DefaultTokenLimit, cfg.Budget.UserOverrides)
	} else {
		guard = budget.NewUnlimitedGuard()
	}

	// Step 7: Build the execution engine.
	promptExec := step.NewPromptExecutor(llmClient, registry, guard)
	eng := engine.New(registry, store, promptExec, logger, metrics, engine.Options{
		SnapshotByteLimit: cfg.Engine.SnapshotByteLimit,
		DefaultPageSize:   cfg.Engine.DefaultPageSize,
		MaxPageSize:       cfg.Engine.MaxPageSize,
	})

	// Step 8: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		PlaybooksLoaded: func() bool { return len(registry.AllPlaybooks()) > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readinessChecks.ExecutionStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Engine:       eng,
		Catalog:      registry,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Ready:        readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("playbooks", len(playbooks)),
		zap.Int("prompts", len(prompts)),
		zap.String("store", cfg.Engine.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildExecutionStore creates the execution store based on config.
func buildExecutionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (engine.ExecutionStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory execution store")
		return engine.NewMemoryExecutionStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("execution store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("execution store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("execution store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("execution store: ping: %w", err)
		}

		return engine.NewPgExecutionStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported execution store driver: %q", cfg.Driver)
	}
}
