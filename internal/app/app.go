// Package app wires the engine's components into the two runtime modes
// spec.md names: an HTTP API server and a background worker running the
// retention and erasure sweep loops. Grounded on the deleted teacher
// internal/app/app.go's Run/runAPI/runWorker shape.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/clawlets/controlplane/internal/audit"
	"github.com/clawlets/controlplane/internal/authz"
	"github.com/clawlets/controlplane/internal/blobstore"
	"github.com/clawlets/controlplane/internal/config"
	"github.com/clawlets/controlplane/internal/httpserver"
	"github.com/clawlets/controlplane/internal/maintenance"
	"github.com/clawlets/controlplane/internal/platform"
	"github.com/clawlets/controlplane/internal/ratelimit"
	"github.com/clawlets/controlplane/internal/telemetry"
	"github.com/clawlets/controlplane/pkg/erasure"
	"github.com/clawlets/controlplane/pkg/job"
	"github.com/clawlets/controlplane/pkg/metadataingest"
	"github.com/clawlets/controlplane/pkg/project"
	"github.com/clawlets/controlplane/pkg/retention"
	"github.com/clawlets/controlplane/pkg/runner"
	"github.com/clawlets/controlplane/pkg/setupdraft"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting clawlets controlplane",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps bundles every service both runtime modes construct, so api and
// worker mode build the same components from the same wiring code.
type deps struct {
	projects       *project.Service
	runners        *runner.Service
	jobs           *job.Service
	metadataingest *metadataingest.Service
	retention      *retention.Service
	erasure        *erasure.Service
	setupDrafts    *setupdraft.Service
	auditRecorder  *audit.Recorder
	gate           *authz.Gate
}

func buildDeps(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, authDisabled bool) *deps {
	limiter := ratelimit.New(rdb)
	blobs := blobstore.NewPostgresStore(pool)

	projects := project.NewService(pool, logger)
	runners := runner.NewService(pool, logger)
	auditRecorder := audit.NewRecorder(pool, logger)
	gate := authz.New(projects, logger, authDisabled)

	return &deps{
		projects:       projects,
		runners:        runners,
		jobs:           job.NewService(pool, limiter, blobs, logger),
		metadataingest: metadataingest.NewService(pool, logger),
		retention:      retention.NewService(pool, logger),
		erasure:        erasure.NewService(pool, auditRecorder, blobs, limiter, logger),
		setupDrafts:    setupdraft.NewService(pool, auditRecorder, logger),
		auditRecorder:  auditRecorder,
		gate:           gate,
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	d := buildDeps(pool, rdb, logger, cfg.AuthDisabled)

	d.auditRecorder.Start(ctx)
	defer d.auditRecorder.Close()

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AuthDisabled:       cfg.AuthDisabled,
	}, logger, pool, rdb, metricsReg, nil)

	auditStore := audit.NewStore(pool)

	projectHandler := project.NewHandler(d.projects, d.gate, d.auditRecorder)
	srv.APIRouter.Mount("/projects", projectHandler.Routes())

	runnerAdminHandler := runner.NewAdminHandler(d.runners, d.gate, d.auditRecorder)
	jobHandler := job.NewHandler(d.jobs, d.gate, logger)
	auditHandler := audit.NewHandler(auditStore, d.gate)
	erasureHandler := erasure.NewHandler(d.erasure, d.projects, d.gate)

	setupDraftHandler := setupdraft.NewHandler(d.setupDrafts, d.gate)

	srv.APIRouter.Mount("/projects/{projectID}/runners", runnerAdminHandler.Routes())
	srv.APIRouter.Mount("/projects/{projectID}/hosts", setupDraftHandler.Routes())
	srv.APIRouter.Mount("/projects/{projectID}/jobs", jobHandler.Routes())
	srv.APIRouter.Mount("/projects/{projectID}/runs", jobHandler.RunsRoutes())
	srv.APIRouter.Mount("/projects/{projectID}/audit-log", auditHandler.Routes())
	srv.APIRouter.Mount("/projects/{projectID}", erasureHandler.Routes())
	srv.APIRouter.Mount("/erasure-jobs", erasureHandler.JobRoutes())

	maintenanceHandler := maintenance.NewHandler(d.retention, d.erasure, d.gate, cfg.MaintenanceEnabled)
	srv.APIRouter.Mount("/maintenance", maintenanceHandler.Routes())

	// Runner-facing surface (spec.md §6): bearer token validated against the
	// project id carried in each request body, not generic middleware.
	runnerHandler := job.NewRunnerHandler(d.jobs, d.runners, logger)
	metadataHandler := metadataingest.NewHandler(d.metadataingest, d.runners)
	srv.Router.Mount("/api/v1/runner", runnerHandler.Routes())
	srv.Router.Mount("/api/v1/runner/metadata", metadataHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker started")

	d := buildDeps(pool, rdb, logger, cfg.AuthDisabled)
	d.auditRecorder.Start(ctx)
	defer d.auditRecorder.Close()

	retentionInterval, err := time.ParseDuration(cfg.RetentionSweepIdleInterval)
	if err != nil {
		return fmt.Errorf("parsing retention sweep idle interval %q: %w", cfg.RetentionSweepIdleInterval, err)
	}
	erasureInterval, err := time.ParseDuration(cfg.ErasureRecoveryInterval)
	if err != nil {
		return fmt.Errorf("parsing erasure recovery interval %q: %w", cfg.ErasureRecoveryInterval, err)
	}

	go retention.RunLoop(ctx, d.retention, logger, retentionInterval)
	erasure.RunRecoveryLoop(ctx, d.erasure, logger, erasureInterval)
	return nil
}
