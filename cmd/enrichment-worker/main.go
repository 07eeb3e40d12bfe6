package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/callsync/cmd/mainconfig"
	"github.com/wolfman30/callsync/internal/app/bootstrap"
	"github.com/wolfman30/callsync/internal/archive"
	appconfig "github.com/wolfman30/callsync/internal/config"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/pkg/logging"
)

// The enrichment worker consumes attempts enqueued by the API when
// ENRICHMENT_QUEUE_URL is set.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.DurableRetries() || cfg.DatabaseURL == "" {
		logger.Error("enrichment worker requires an SQS ENRICHMENT_QUEUE_URL and DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	awsClients := bootstrap.BuildAWSClients(awsCfg, cfg)

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	conversations, err := bootstrap.BuildConversationClient(cfg, logger)
	if err != nil {
		logger.Error("failed to create conversation client", "error", err)
		os.Exit(1)
	}

	var archiveStore *archive.Store
	if awsClients.S3 != nil {
		archiveStore = archive.NewStore(awsClients.S3, cfg.PayloadArchiveBucket, logger)
	}

	pipeline, err := bootstrap.BuildPipeline(bootstrap.PipelineDeps{
		Config:        cfg,
		Stores:        bootstrap.BuildStores(pool, logger),
		Conversations: conversations,
		Archive:       archiveStore,
		Email:         bootstrap.BuildEmailSender(cfg, awsClients.SESAPI(), logger),
		Metrics:       pipelineMetrics,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to build enrichment pipeline", "error", err)
		os.Exit(1)
	}

	exhausted, err := bootstrap.BuildExhaustion(cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build give-up registry", "error", err)
		os.Exit(1)
	}
	worker, err := bootstrap.BuildQueueWorker(cfg, pipeline, awsClients.SQSAPI(), exhausted, pipelineMetrics, logger)
	if err != nil {
		logger.Error("failed to build queue worker", "error", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	worker.Start(ctx)
	logger.Info("enrichment worker started", "workers", cfg.EnrichmentWorkerCount, "queue", cfg.EnrichmentQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("enrichment worker shutting down")
	cancel()
	worker.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
