package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xuan1250/Transfer2Read-sub004/internal/app"
	"github.com/xuan1250/Transfer2Read-sub004/internal/clients/gcp"
	"github.com/xuan1250/Transfer2Read-sub004/internal/clients/gemini"
	"github.com/xuan1250/Transfer2Read-sub004/internal/clients/openai"
	redisclient "github.com/xuan1250/Transfer2Read-sub004/internal/clients/redis"
	"github.com/xuan1250/Transfer2Read-sub004/internal/clients/renderer"
	"github.com/xuan1250/Transfer2Read-sub004/internal/data/db"
	jobrepos "github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	httpserver "github.com/xuan1250/Transfer2Read-sub004/internal/http"
	httpH "github.com/xuan1250/Transfer2Read-sub004/internal/http/handlers"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/jobs/orchestrator"
	"github.com/xuan1250/Transfer2Read-sub004/internal/observability"
	"github.com/xuan1250/Transfer2Read-sub004/internal/pipeline/convert"
	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/services"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "transfer2read",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if shutdownOtel != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(sctx)
		}()
	}

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Fatal("Database init failed", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Fatal("Database migration failed", "error", err)
	}
	theDB := dbService.DB()

	// Repos
	jobRepo := jobrepos.NewJobRepo(theDB, log)

	// Telemetry: Redis bus when configured, structured logs otherwise.
	var sink telemetry.Sink
	if os.Getenv("REDIS_ADDR") != "" {
		bus, err := redisclient.NewTelemetryBus(log)
		if err != nil {
			log.Fatal("Redis telemetry bus init failed", "error", err)
		}
		defer bus.Close()
		sink = bus
	} else {
		log.Warn("REDIS_ADDR not set, telemetry events go to logs only")
		sink = telemetry.NewLogSink(log)
	}

	// Clients
	artifacts, err := gcp.NewBucketService(log)
	if err != nil {
		log.Fatal("Bucket service init failed", "error", err)
	}
	docService, err := gcp.NewDocumentService(log, artifacts)
	if err != nil {
		log.Fatal("Document AI init failed", "error", err)
	}
	defer docService.Close()

	primary, err := openai.NewClient(log, artifacts)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}
	fallback, err := gemini.NewClient(log, artifacts)
	if err != nil {
		log.Fatal("Gemini client init failed", "error", err)
	}
	defer fallback.Close()

	renderClient, err := renderer.NewClient(log)
	if err != nil {
		log.Fatal("Renderer client init failed", "error", err)
	}

	// Services
	coverService, err := services.NewCoverService(log, artifacts)
	if err != nil {
		log.Warn("Cover service init failed, covers disabled", "error", err)
		coverService = nil
	}
	quotaService := services.NewQuotaService(theDB, log, jobRepo, cfg.MaxActiveJobsPerAccount)
	jobService := services.NewJobService(theDB, log, jobRepo, sink, artifacts)

	// Pipeline
	policy := orchestrator.Policy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.BackoffLadder,
		JitterFrac: cfg.JitterFrac,
	}
	router := convert.NewRouter(log, primary, fallback, policy)
	pricing := convert.NewPricing(log)
	pipeline := convert.New(log, docService, artifacts, router, renderClient, coverService, pricing, cfg.LowConfidenceThreshold)

	orch := orchestrator.New(log, jobRepo, quotaService, sink, pipeline.Stages(), pipeline.Finalize, policy, orchestrator.Budgets{
		Simple:  cfg.BudgetSimple,
		Complex: cfg.BudgetComplex,
	})

	// Worker
	worker := jobs.NewWorker(theDB, log, jobRepo, orch, sink, jobs.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		StaleRunning: cfg.StaleRunning,
	})
	worker.Start(ctx)

	// HTTP
	engine := httpserver.NewRouter(httpserver.RouterConfig{
		Log:           log,
		HealthHandler: httpH.NewHealthHandler(),
		JobHandler:    httpH.NewJobHandler(jobService),
	})

	log.Info("Server starting", "port", cfg.Port)
	srv := httpserver.NewServer(engine)
	if err := srv.Run(ctx, ":"+cfg.Port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
