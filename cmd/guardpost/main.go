package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/guardpost/guardpost/cmd/guardpost/cli"
	"github.com/guardpost/guardpost/internal/app"
	"github.com/guardpost/guardpost/internal/audit"
	"github.com/guardpost/guardpost/internal/authn"
	"github.com/guardpost/guardpost/internal/authz"
	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/instperm"
	"github.com/guardpost/guardpost/internal/observability"
	"github.com/guardpost/guardpost/internal/permcache"
	"github.com/guardpost/guardpost/internal/platform/cache"
	"github.com/guardpost/guardpost/internal/platform/db"
	"github.com/guardpost/guardpost/internal/principals"
	"github.com/guardpost/guardpost/internal/resolver"
	"github.com/guardpost/guardpost/internal/scope"
	"github.com/guardpost/guardpost/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	catalogRepo := catalog.NewRepository(pool)
	grantsRepo := grants.NewRepository(pool)

	if len(os.Args) > 1 && os.Args[1] == "seed" {
		seeder := cli.Seeder{Catalog: catalogRepo, Graph: grantsRepo, Logger: logger}
		if err := seeder.Run(ctx, cfg.SeedFile, cfg.GuardNamespace); err != nil {
			logger.Error("seed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The cache degrades to local LRU plus the resolver when redis is away.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()

	res := resolver.New(grantsRepo, catalogRepo)
	permCache, err := permcache.New(res, grantsRepo, redisClient, permcache.Options{
		TTL:       cfg.CacheTTL,
		LocalSize: cfg.CacheLocalSize,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("init permission cache", slog.Any("error", err))
		os.Exit(1)
	}

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)

	catalogService := catalog.NewService(catalogRepo)
	grantsService := grants.NewService(grantsRepo, catalogRepo, permCache, auditService, logger)
	factory := instperm.NewFactory(instperm.NewStore(catalogRepo))
	principalsRepo := principals.NewRepository(pool)
	engine := scope.NewEngine(logger)

	authzService := authz.NewService(permCache, grantsRepo, grantsService, factory,
		catalogRepo, principalsRepo, engine, auditService, cfg.GuardNamespace, logger)

	var registry *authz.Registry
	if cfg.RegistryFile != "" {
		registry, err = authz.LoadRegistry(cfg.RegistryFile)
		if err != nil {
			logger.Error("load operation registry", slog.Any("error", err))
			os.Exit(1)
		}
	}
	authzMW := authz.Middleware{Service: authzService, Registry: registry, Logger: logger}

	authnRepo := authn.NewRepository(pool)
	authnService := authn.NewService(authnRepo)
	authnMW := authn.Middleware{Service: authnService, Attrs: principalsRepo, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Authn:          authnMW,
		AuthzHandler:   authz.NewHandler(logger, authzService, authzMW),
		AuthzMW:        authzMW,
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		AuditHandler:   audit.NewHandler(logger, auditService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
