// Package main is the entry point for the ledgerflow engine server.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/action"
	"github.com/registerlabs/ledgerflow/internal/blueprint"
	"github.com/registerlabs/ledgerflow/internal/config"
	"github.com/registerlabs/ledgerflow/internal/engine"
	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/internal/observability"
	"github.com/registerlabs/ledgerflow/internal/payload"
	"github.com/registerlabs/ledgerflow/internal/resolver"
	"github.com/registerlabs/ledgerflow/internal/state"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/internal/transport"
	"github.com/registerlabs/ledgerflow/internal/txbuilder"
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
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "ledgerflow-engine", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Stores.
	instances, blueprints, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	results, resultsCloser := buildResultStore(cfg.Idempotency, logger)
	cache, cacheCloser := buildBlueprintCache(cfg.Cache, logger)

	// Consumed service clients.
	register := ledger.NewHTTPRegisterClient(cfg.Register.BaseURL, cfg.Register.Timeout)
	wallet := ledger.NewHTTPWalletClient(cfg.Wallet.BaseURL, cfg.Wallet.Timeout)
	directory := ledger.NewHTTPParticipantDirectory(cfg.Directory.BaseURL, cfg.Directory.Timeout)

	var notifier ledger.Notifier
	if cfg.Notifier.BaseURL != "" {
		notifier = ledger.NewHTTPNotifier(cfg.Notifier.BaseURL, cfg.Notifier.Timeout)
	}

	// Core components.
	bpResolver := resolver.New(blueprints, cache, logger, resolver.WithMetrics(metrics))
	reconstructor := state.NewReconstructor(register, wallet, logger, state.WithMetrics(metrics))
	eng := engine.NewJSONLogicEngine()
	payloads := payload.NewResolver(register, wallet, logger)
	builder := txbuilder.NewBuilder()

	execOpts := []action.ExecutorOption{
		action.WithResultTTL(cfg.Idempotency.DefaultTTL),
		action.WithMetrics(metrics),
	}
	if notifier != nil {
		execOpts = append(execOpts, action.WithNotifier(notifier))
	}
	executor := action.NewExecutor(
		instances, bpResolver, results, reconstructor, eng, payloads, builder,
		register, wallet, directory, logger, execOpts...)

	publisher := blueprint.NewPublisher(blueprints, register, cache, logger, blueprint.WithMetrics(metrics))

	// HTTP surface.
	authenticator, err := transport.NewAuthenticator(cfg.Identity)
	if err != nil {
		logger.Error("authenticator initialization failed", zap.Error(err))
		return 1
	}

	handlers := transport.NewHandlers(executor, publisher, bpResolver, instances, logger)

	readiness := observability.ReadinessChecks{}
	if hc, ok := instances.(observability.HealthChecker); ok {
		readiness.InstanceStore = hc
	}
	if hc, ok := results.(observability.HealthChecker); ok {
		readiness.ResultStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Handlers:     handlers,
		Authenticate: authenticator.Middleware,
		Metrics:      metrics,
		Readiness:    readiness,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}
	if resultsCloser != nil {
		resultsCloser()
	}
	if cacheCloser != nil {
		cacheCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores creates the instance and blueprint stores based on config.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.InstanceStore, store.BlueprintStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory instance and blueprint stores")
		return store.NewMemoryInstanceStore(), store.NewMemoryBlueprintStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return store.NewPgInstanceStore(pool), store.NewPgBlueprintStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildResultStore creates the idempotency result store based on config.
func buildResultStore(cfg config.IdempotencyConfig, logger *zap.Logger) (store.ResultStore, func()) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: os.Getenv(cfg.AddrEnv), DB: cfg.DB})
		return store.NewRedisResultStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory result store")
		return store.NewMemoryResultStore(), nil
	}
}

// buildBlueprintCache creates the blueprint cache based on config.
func buildBlueprintCache(cfg config.CacheConfig, logger *zap.Logger) (resolver.BlueprintCache, func()) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: os.Getenv(cfg.AddrEnv), DB: cfg.DB})
		return resolver.NewRedisBlueprintCache(client, cfg.TTL), func() { client.Close() }
	default:
		logger.Info("using in-memory blueprint cache")
		return resolver.NewMemoryBlueprintCache(cfg.TTL), nil
	}
}
