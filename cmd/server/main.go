package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/data/db"
	"github.com/studyforge/studyforge-backend/internal/data/repos"
	httpx "github.com/studyforge/studyforge-backend/internal/http"
	httpH "github.com/studyforge/studyforge-backend/internal/http/handlers"
	"github.com/studyforge/studyforge-backend/internal/observability"
	"github.com/studyforge/studyforge-backend/internal/platform/envutil"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/platform/openai"
	"github.com/studyforge/studyforge-backend/internal/realtime/bus"
	"github.com/studyforge/studyforge-backend/internal/services"
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

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Configuration invalid", "error", err)
	}

	// Postgres; the job store and artifact store fall back to memory when
	// the database is unreachable so local runs still work
	var jobStore repos.JobStore
	var artifactStore repos.ArtifactStore
	var chunkRepo repos.ChunkRepo

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("Postgres init failed, using in-memory stores", "error", err)
		jobStore = repos.NewMemoryJobStore()
		artifactStore = repos.NewMemoryArtifactStore()
		chunkRepo = repos.NewMemoryChunkRepo()
	} else {
		if err := db.AutoMigrateAll(postgresService.DB()); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		thePG := postgresService.DB()
		jobStore = repos.NewJobRepo(thePG, log)
		artifactStore = repos.NewArtifactRepo(thePG, log)
		chunkRepo = repos.NewChunkRepo(thePG, log)
	}

	// Metrics
	metrics := observability.NewMetrics()

	// OpenAI gateway
	log.Info("Setting up OpenAI client from main...")
	aiClient, err := openai.NewClient(log, metrics)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}

	// Realtime bus; degraded to no-op notifications when redis is absent
	var notifier services.JobNotifier
	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis bus init failed, job events disabled", "error", err)
		notifier = services.NewNopNotifier()
	} else {
		defer eventBus.Close()
		notifier = services.NewBusNotifier(log, eventBus)
	}

	// Services
	log.Info("Setting up Services from main...")
	chunkIndex := services.NewChunkIndex(log, chunkRepo, aiClient)
	probeService := services.NewProbeService(log, aiClient, cfg.Probe)
	retriever := services.NewRetrievalService(log, aiClient, chunkIndex, metrics, cfg.Retrieval)
	contentService := services.NewContentService(log, aiClient, probeService, retriever, metrics, cfg.Generation)
	runner := services.NewContentRunner(log, contentService, artifactStore)
	scheduler := services.NewScheduler(log, jobStore, runner, notifier, metrics, cfg.Scheduler)

	// HTTP
	log.Info("Setting up HTTP server from main...")
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		HealthHandler:   httpH.NewHealthHandler(),
		DocumentHandler: httpH.NewDocumentHandler(chunkRepo, chunkIndex),
		JobHandler:      httpH.NewJobHandler(scheduler),
	})

	address := ":" + envutil.Str("PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(address)
	}()
	log.Info("Server listening", "address", address)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Error("HTTP server stopped", "error", err)
	case sig := <-stop:
		log.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Warn("Scheduler shutdown timed out", "error", err)
	}
}
