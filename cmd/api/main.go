package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solacehealth/therapy-ai-platform/cmd/mainconfig"
	"github.com/solacehealth/therapy-ai-platform/internal/api/router"
	appconfig "github.com/solacehealth/therapy-ai-platform/internal/config"
	"github.com/solacehealth/therapy-ai-platform/internal/observability/metrics"
	"github.com/solacehealth/therapy-ai-platform/internal/orchestration"
	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting therapy-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Redis holds all per-session state.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	sessionStore := orchestration.NewSessionStore(redisClient, nil)

	// Postgres is optional: profiles and telemetry degrade to defaults
	// without it.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
	} else {
		logger.Warn("DATABASE_URL not set, persona and telemetry storage disabled")
	}
	profileStore := orchestration.NewProfileStore(db)
	telemetryStore := orchestration.NewTelemetryStore(db)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	monitorStore := orchestration.NewMonitorStore(dynamoClient, cfg.CrisisMonitorTable, logger)

	registry := prometheus.NewRegistry()
	orchMetrics := metrics.NewOrchestrationMetrics(registry)

	// Telemetry queue: in-memory for local development, SQS elsewhere.
	var dispatcher *orchestration.TelemetryDispatcher
	if cfg.UseMemoryQueue || cfg.TelemetryQueueURL == "" {
		dispatcher = orchestration.NewTelemetryDispatcher(
			orchestration.NewMemoryQueue(0), telemetryStore, monitorStore, logger,
			orchestration.WithDispatcherWorkers(cfg.WorkerCount),
			orchestration.WithDispatcherMetrics(orchMetrics),
		)
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		dispatcher = orchestration.NewTelemetryDispatcher(
			orchestration.NewSQSQueue(sqsClient, cfg.TelemetryQueueURL), telemetryStore, monitorStore, logger,
			orchestration.WithDispatcherWorkers(cfg.WorkerCount),
			orchestration.WithDispatcherMetrics(orchMetrics),
		)
	}
	dispatcher.Start(ctx)

	// LLM providers. Bedrock is required; Gemini is optional and falls back
	// to Bedrock when no API key is configured.
	bedrockClient := orchestration.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))

	clients := map[orchestration.Provider]orchestration.LLMClient{
		orchestration.ProviderBedrock: bedrockClient,
	}
	models := orchestration.RouterModels{
		Crisis:   orchestration.ModelChoice{Model: cfg.BedrockModelID, Provider: orchestration.ProviderBedrock},
		Cultural: orchestration.ModelChoice{Model: cfg.GeminiProModelID, Provider: orchestration.ProviderGemini},
		Default:  orchestration.ModelChoice{Model: cfg.GeminiFlashModelID, Provider: orchestration.ProviderGemini},
	}
	if cfg.GeminiAPIKey != "" {
		geminiClient, err := orchestration.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Error("failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
		defer geminiClient.Close()
		clients[orchestration.ProviderGemini] = orchestration.NewFallbackLLMClient(
			geminiClient, bedrockClient, logger,
			orchestration.WithFallbackModel(cfg.BedrockModelID),
		)
	} else {
		// Without a Gemini key every route resolves to the Bedrock model, so
		// the router never emits a model Bedrock cannot serve.
		logger.Warn("GEMINI_API_KEY not set, routing all traffic to Bedrock")
		models.Cultural = models.Crisis
		models.Default = models.Crisis
	}

	composer := orchestration.NewPromptComposer(clients, logger,
		orchestration.WithLLMTimeout(cfg.LLMTimeout),
		orchestration.WithGenerationParams(int32(cfg.LLMMaxTokens), float32(cfg.LLMTemperature)),
		orchestration.WithComposerMetrics(orchMetrics),
	)

	modelRouter := orchestration.NewModelRouter(models, logger)

	service := orchestration.NewService(
		orchestration.NewCrisisDetector(logger),
		orchestration.NewTechniqueSelector(cfg.DefaultLanguage, logger),
		modelRouter,
		composer,
		sessionStore,
		logger,
		orchestration.WithProfileStore(profileStore),
		orchestration.WithTelemetryDispatcher(dispatcher),
		orchestration.WithServiceMetrics(orchMetrics),
	)

	therapyHandler := orchestration.NewHandler(service, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		TherapyHandler:     therapyHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry dispatcher forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
