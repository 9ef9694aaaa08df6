package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apphttp "ats_backend/internal/http"
	"ats_backend/internal/http/router"
	"ats_backend/internal/pipeline"
	"ats_backend/internal/pipeline/catalog"
	"ats_backend/internal/pipeline/dedupe"
	"ats_backend/internal/pipeline/facets"
	"ats_backend/internal/pipeline/intake"
	"ats_backend/internal/pipeline/metrics"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/internal/pipeline/service"
	"ats_backend/migrations"
	"ats_backend/platform/config"
	"ats_backend/platform/db"
	"ats_backend/platform/logger"
	"ats_backend/platform/redis"
	"ats_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	repo, health, closeStore := initStore(ctx, cfg, log)
	defer closeStore()

	queue, closeQueue := initIntakeQueue(ctx, cfg, log)
	defer closeQueue()

	stages, err := catalog.Seed(ctx, repo, cfg.GetStageCatalogPath(), cfg.GetDefaultStage())
	if err != nil {
		log.Error("failed to seed stage catalog", "error", err)
		panic("failed to seed stage catalog: " + err.Error())
	}
	log.Info("stage catalog seeded", "stages", len(stages))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.New(registry)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	facetEngine := facets.New(repo, cfg.GetFacetQueryTimeout(), log, pipelineMetrics)
	detector := dedupe.New(repo, queue, log, pipelineMetrics)
	pipelineService := service.New(repo, facetEngine, detector, queue, cfg, log, pipelineMetrics)
	pipelineModule := pipeline.NewModule(pipelineService, validator.New())

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  health,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Modules: []apphttp.Module{pipelineModule},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initStore picks the pipeline store for STORE_DRIVER. The returned health
// checker is nil for the in-memory store.
func initStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.PipelineRepository, apphttp.HealthChecker, func()) {
	if cfg.UsesMemoryStore() {
		log.Warn("STORE_DRIVER=memory; pipeline state is lost on restart")
		return repository.NewMemoryRepository(), nil, func() {}
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	return repository.New(pool), db.NewPoolAdapter(pool), pool.Close
}

// initIntakeQueue uses Redis when REDIS_URL is set so that every API
// instance sees the same in-flight records.
func initIntakeQueue(ctx context.Context, cfg *config.Config, log *logger.Logger) (intake.Queue, func()) {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; intake queue is process-local")
		return intake.NewMemoryQueue(), func() {}
	}

	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	log.Info("intake queue backed by redis", "key", cfg.GetIntakeQueueKey())

	return intake.NewRedisQueue(client, cfg.GetIntakeQueueKey()), func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
