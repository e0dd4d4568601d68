package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/canvasadmin/canvasadmin/internal/adminpage"
	"github.com/canvasadmin/canvasadmin/internal/api"
	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/client"
	"github.com/canvasadmin/canvasadmin/internal/config"
	"github.com/canvasadmin/canvasadmin/internal/database"
	"github.com/canvasadmin/canvasadmin/internal/ingestion"
	"github.com/canvasadmin/canvasadmin/internal/logging"
	"github.com/canvasadmin/canvasadmin/internal/manage"
	"github.com/canvasadmin/canvasadmin/internal/memstore"
	"github.com/canvasadmin/canvasadmin/internal/metrics"
	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/scheduler"
	"github.com/canvasadmin/canvasadmin/internal/server"
	"github.com/canvasadmin/canvasadmin/internal/sources"
	"github.com/canvasadmin/canvasadmin/internal/store"
)

const canvasPagePath = "/admin/connectors/canvas"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// backend is the storage the service runs on.
type backend struct {
	stores    manage.Stores
	scheduler scheduler.Repositories
	attempts  ingestion.AttemptWriter
	documents ingestion.DocumentWriter
	health    func(ctx context.Context) error
	close     func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		mem := memstore.New()
		return backend{
			stores: manage.Stores{
				Credentials: mem.Credentials(),
				Connectors:  mem.Connectors(),
				Pairs:       mem.Pairs(),
				Attempts:    mem.Attempts(),
				Documents:   mem.Documents(),
			},
			scheduler: scheduler.Repositories{
				Connectors:  mem.Connectors(),
				Credentials: mem.Credentials(),
				Pairs:       mem.Pairs(),
				Attempts:    mem.Attempts(),
			},
			attempts:  mem.Attempts(),
			documents: mem.Documents(),
			health:    func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	logger.Info("connecting to database")
	db, err := database.Connect(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return backend{}, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("database connected")

	if err := database.RunMigrations(ctx, db, database.Migrations(), logger); err != nil {
		db.Close()
		return backend{}, fmt.Errorf("run migrations: %w", err)
	}

	return newDatabaseBackend(db), nil
}

func newDatabaseBackend(db *sql.DB) backend {
	credentials := database.NewCredentialRepository(db)
	connectors := database.NewConnectorRepository(db)
	pairs := database.NewPairRepository(db)
	attempts := database.NewIndexAttemptRepository(db)
	documents := database.NewDocumentRepository(db)

	return backend{
		stores: manage.Stores{
			Credentials: credentials,
			Connectors:  connectors,
			Pairs:       pairs,
			Attempts:    attempts,
			Documents:   documents,
		},
		scheduler: scheduler.Repositories{
			Connectors:  connectors,
			Credentials: credentials,
			Pairs:       pairs,
			Attempts:    attempts,
		},
		attempts:  attempts,
		documents: documents,
		health:    func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		close:     func() { db.Close() },
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting canvasadmin")

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	collector, err := metrics.NewHTTPCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	registry := sources.Default()
	svc := manage.NewService(be.stores, registry, logger)

	settings := ingestion.Settings{
		BatchSize:     cfg.Indexing.BatchSize,
		BatchPause:    ingestion.DefaultSettings().BatchPause,
		FileSizeLimit: cfg.Indexing.FileSizeLimit,
		HTTPTimeout:   cfg.Indexing.HTTPTimeout,
	}
	if cfg.Indexing.VerifyCredentials {
		svc.SetVerifier(ingestion.NewCredentialVerifier(settings))
	}

	if cfg.Indexing.SchedulerDisabled {
		logger.Warn("index scheduler disabled, connectors will not run")
	} else {
		factory := ingestion.NewFactory(settings, logger)
		pipeline := ingestion.NewPipeline(factory, be.attempts, be.documents, collector, logger)

		sched := scheduler.NewIndexScheduler(be.scheduler, pipeline, cfg.Indexing.SchedulerTick, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start index scheduler: %w", err)
		}
		defer func() {
			sched.Stop()
			sched.Wait()
		}()
		svc.SetTrigger(sched)
	}

	authCfg, err := auth.NewConfig(cfg.Auth)
	if err != nil {
		return err
	}

	var bus store.Bus
	if cfg.Cache.RedisURL != "" {
		redisBus, err := store.NewRedisBus(ctx, cfg.Cache.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisBus.Close()
		bus = redisBus
		logger.Info("page cache invalidations shared over redis")
	}

	pageStore, err := store.New(ctx, store.Options{Bus: bus, Logger: logger})
	if err != nil {
		return err
	}
	defer pageStore.Close()

	apiURL := cfg.AdminPage.ManageAPIURL
	if apiURL == "" {
		apiURL = "http://127.0.0.1:" + cfg.Server.Port
	}
	// The page calls the API with the token of the admin whose request it serves.
	apiClient := client.New(apiURL, client.WithTokenSource(adminpage.SessionToken))

	kind, _ := registry.Lookup(models.SourceCanvas)
	page := adminpage.New(apiClient, pageStore, kind, logger)
	pageHandler := adminpage.NewHandler(page, canvasPagePath, authCfg, adminpage.HealthFunc(be.health), logger)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    authCfg,
		Metrics: collector,
		Health:  api.HealthCheckFunc(be.health),
		Page:    pageHandler,
		Logger:  logger,
	})

	srv := server.New(cfg.Server, logger, router)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("canvasadmin started", "port", cfg.Server.Port, "page", canvasPagePath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
