package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studentdocs/internal/config"
	"studentdocs/internal/database"
	"studentdocs/internal/database/migration"
	handlers "studentdocs/internal/http/handler"
	"studentdocs/internal/http/middleware"
	"studentdocs/internal/logger"
	"studentdocs/internal/otel"
	"studentdocs/internal/repository/postgres"
	"studentdocs/internal/scheduler"
	"studentdocs/internal/service"
	"studentdocs/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studentdocs",
		Short:         "Student document storage and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the bundle sweeper",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the documents schema if it does not exist",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Remove expired archive bundles once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return sweep(cmd.Context())
			},
		},
	)
	return root
}

func setup() (*config.AppConfig, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logger.New(cfg.Log)
}

func openDatabase(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*sql.DB, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Error().Err(err).Str("component", "database").Msg("failed to connect to database")
		return nil, err
	}
	return db, nil
}

func openStorage(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (storage.Storage, error) {
	store, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Error().Err(err).Str("component", "storage").Msg("failed to initialize object storage")
		return nil, err
	}
	return storage.WithCircuitBreaker(store, cfg.CircuitBreaker), nil
}

func migrate(ctx context.Context) error {
	cfg, log := setup()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	return migration.EnsureMigrated(ctx, db, log, cfg.Database.Host)
}

func sweep(ctx context.Context) error {
	cfg, log := setup()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}

	sw := service.NewBundleSweeper(store, cfg.Retrieval, log, nil)
	removed, err := sw.Sweep(ctx)
	log.Info().Str("component", "sweeper").Int("removed", removed).Msg("sweep finished")
	return err
}

func serve(parent context.Context) error {
	cfg, log := setup()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}

	metrics, err := service.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	docRepo := postgres.NewDocumentPostgres(db)
	docSvc := service.NewDocumentService(store, docRepo, service.NewUploadPolicy(cfg.Upload), log)
	retrievalSvc := service.NewRetrievalService(store, docRepo, cfg.Retrieval, log, metrics)

	jobs, err := scheduler.New(log)
	if err != nil {
		return err
	}
	sweeper := service.NewBundleSweeper(store, cfg.Retrieval, log, metrics)
	if err := jobs.AddSweep("bundle-sweep", cfg.Retrieval.BundleSweepInterval, cfg.Retrieval.ArchiveTimeout, sweeper); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "studentdocs",
		ErrorHandler: handlers.ErrorHandler(log),
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		// Multipart framing on top of the largest accepted file.
		BodyLimit: int(cfg.Upload.MaxSizeBytes) + 1<<20,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(otelfiber.Middleware())
	app.Use(httpMetrics.Handler())

	handlers.RegisterRoutes(app, handlers.Deps{
		DB:        db,
		Documents: docSvc,
		Retrieval: retrievalSvc,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Metrics:   promhttp.Handler(),
		Log:       log,
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET is empty; every /documents request will be rejected")
	}

	jobs.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Msg("server listening")
		errCh <- app.Listen(addr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server stopped")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := jobs.Shutdown(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
