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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/callsync/cmd/mainconfig"
	"github.com/wolfman30/callsync/internal/api/router"
	"github.com/wolfman30/callsync/internal/app/bootstrap"
	"github.com/wolfman30/callsync/internal/archive"
	"github.com/wolfman30/callsync/internal/calls"
	appconfig "github.com/wolfman30/callsync/internal/config"
	"github.com/wolfman30/callsync/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/callsync/internal/http/middleware"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting callsync API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"durable_retries", cfg.DurableRetries(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}

	metricsHandler, pipelineMetrics := setupMetrics()

	var awsClients bootstrap.AWSClients
	if mainconfig.NeedsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsClients = bootstrap.BuildAWSClients(awsCfg, cfg)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	stores := bootstrap.BuildStores(poolOrNil(pool), logger)
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
		Stores:        stores,
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
	scheduler := bootstrap.BuildScheduler(cfg, pipeline, awsClients.SQSAPI(), exhausted, pipelineMetrics, logger)
	ingestor := calls.NewIngestor(stores.Calls, stores.VoiceLines, scheduler, logger)

	// Initialize handlers
	callStatusHandler := handlers.NewCallStatusHandler(ingestor, logger,
		handlers.WithTwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL),
		handlers.WithAckTimeout(cfg.WebhookAckTimeout),
		handlers.WithWebhookMetrics(pipelineMetrics),
	)
	if cfg.TwilioAuthToken == "" {
		logger.Warn("TWILIO_AUTH_TOKEN not set; call-status signatures are not verified")
	}
	var limiter *httpmiddleware.RateLimiter
	if cfg.WebhookRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst)
		go evictIdleLimiters(ctx, limiter, logger)
	}

	// Setup router
	routerCfg := &router.Config{
		Logger:          logger,
		CallStatus:      callStatusHandler,
		AudioProxy:      handlers.NewAudioProxyHandler(conversations, logger),
		AdminCalls:      handlers.NewAdminCallsHandler(stores.Calls, scheduler, logger),
		LeadsHandler:    leads.NewHandler(stores.Leads, logger),
		WebhookLimiter:  limiter,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
	}
	if pool != nil {
		routerCfg.HealthDB = pool
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin and audio routes disabled")
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Pending in-process retries are dropped here; durable mode leaves them on the queue.
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("enrichment scheduler did not drain", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), pipelineMetrics
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		os.Exit(1)
	}
	return pool
}

// poolOrNil keeps a missing pool an untyped nil for the store builder.
func poolOrNil(pool *pgxpool.Pool) calls.PgxPool {
	if pool == nil {
		return nil
	}
	return pool
}

func evictIdleLimiters(ctx context.Context, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Evict(10 * time.Minute); n > 0 {
				logger.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}
