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

	"github.com/soleforge/soleforge-backend/internal/data/db"
	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/handlers"
	"github.com/soleforge/soleforge-backend/internal/jobs"
	"github.com/soleforge/soleforge-backend/internal/middleware"
	"github.com/soleforge/soleforge-backend/internal/observability"
	"github.com/soleforge/soleforge-backend/internal/platform/envutil"
	"github.com/soleforge/soleforge-backend/internal/platform/gcp"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/platform/redisx"
	"github.com/soleforge/soleforge-backend/internal/platform/suggest"
	"github.com/soleforge/soleforge-backend/internal/server"
	"github.com/soleforge/soleforge-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "soleforge-backend",
		Environment: envutil.GetEnv("APP_ENV", "development", log),
		Version:     envutil.GetEnv("APP_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	gdb := postgresService.DB()

	// Redis (optional: build claim + build events)
	rdb, err := redisx.NewClientFromEnv()
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}

	// Blob store
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Fatal("Bucket init failed", "error", err)
	}

	// Repos
	log.Info("Setting up repos from main...")
	allRepos := repos.New(gdb, log)

	// Services
	log.Info("Setting up services from main...")
	specStore := services.NewSpecStore(log)
	builder := services.NewGeometryBuilder()
	notifier := services.NewBuildNotifier(log, rdb)
	graph := services.NewGenerationGraph(
		gdb, log, specStore,
		allRepos.Projects, allRepos.Generations, allRepos.SpecSnapshots, allRepos.DraftConfirmations,
	)
	audit := services.NewAuditLog(log, allRepos.AIActions)
	gate, err := services.NewOptionGate(gdb, log, graph, suggest.NewFromEnv(log), audit)
	if err != nil {
		log.Fatal("Option gate init failed", "error", err)
	}
	mergeEngine := services.NewMergeEngine(
		gdb, log, graph, audit, builder, services.DefaultGeomVersion,
		allRepos.Generations, allRepos.SpecSnapshots, allRepos.MergeRecords,
	)
	cache := services.NewGeometryCache(
		log, builder, services.DefaultGeomVersion,
		allRepos.Generations, allRepos.SpecSnapshots, allRepos.GeometryAssets, allRepos.BuildJobs,
		bucketService, notifier, rdb,
	)
	projectService := services.NewProjectService(log, allRepos.Projects)
	authService, err := services.NewAuthService(gdb, log, allRepos.Users, allRepos.UserTokens)
	if err != nil {
		log.Fatal("Auth init failed", "error", err)
	}

	// Worker
	worker := jobs.NewWorker(log, allRepos.BuildJobs, cache)
	worker.Start(ctx)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       handlers.NewAuthHandler(log, authService),
		AuthMiddleware:    middleware.NewAuthMiddleware(log, authService),
		ProjectHandler:    handlers.NewProjectHandler(log, projectService),
		GenerationHandler: handlers.NewGenerationHandler(log, projectService, graph, gate, mergeEngine, cache),
		AuditHandler:      handlers.NewAuditHandler(log, audit),
	})

	port := envutil.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("Shutdown complete")
}
