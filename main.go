package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/cache"
	"github.com/lanternhq/lantern/internal/circuitbreaker"
	"github.com/lanternhq/lantern/internal/config"
	"github.com/lanternhq/lantern/internal/db"
	"github.com/lanternhq/lantern/internal/embeddings"
	"github.com/lanternhq/lantern/internal/gateway"
	"github.com/lanternhq/lantern/internal/health"
	"github.com/lanternhq/lantern/internal/insights"
	"github.com/lanternhq/lantern/internal/llm"
	"github.com/lanternhq/lantern/internal/retrieval"
	"github.com/lanternhq/lantern/internal/tracing"
	"github.com/lanternhq/lantern/internal/vectorstore"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting lantern insight engine",
		zap.Int("port", cfg.Service.Port),
		zap.Int("health_port", cfg.Service.HealthPort))

	// Circuit breaker state gauges for every wrapped dependency.
	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without traces", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// PostgreSQL: lexical index and search history.
	// ------------------------------------------------------------------
	dbClient, err := db.NewClient(&db.Config{
		URL:             cfg.Database.URL,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxOpenConns,
		IdleConnections: cfg.Database.MaxIdleConns,
		MaxLifetime:     cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	// ------------------------------------------------------------------
	// Redis: insight cache, embedding cache, rate limiter.
	// ------------------------------------------------------------------
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	if cfg.Redis.PoolSize > 0 {
		redisOpts.PoolSize = cfg.Redis.PoolSize
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Redis is non-critical: caching and rate limiting degrade, search
		// still works.
		logger.Warn("Redis unreachable at startup", zap.Error(err))
	}
	cancel()
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, "lantern", logger)

	// ------------------------------------------------------------------
	// Retrieval pipeline: embedder + dense + lexical.
	// ------------------------------------------------------------------
	var embedCache embeddings.VectorCache
	if cfg.Embeddings.UseRedisCache {
		embedCache = embeddings.NewRedisCache(redisWrapper)
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		DefaultModel: cfg.Embeddings.DefaultModel,
		Timeout:      cfg.Embeddings.Timeout,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.MaxLRU,
	}, embedCache, logger)

	vecClient := vectorstore.NewClient(vectorstore.Config{
		URL:        cfg.Vector.URL,
		Collection: cfg.Vector.Collection,
		APIKey:     cfg.Vector.APIKey,
		Timeout:    cfg.Vector.Timeout,
	}, logger)

	pipeline := retrieval.NewPipeline(embedder, vecClient, dbClient, logger)

	// ------------------------------------------------------------------
	// Insight generation.
	// ------------------------------------------------------------------
	llmClient := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Provider:       cfg.LLM.Provider,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)

	orchestrator := insights.NewOrchestrator(llmClient, insights.Config{
		TaskTimeout:         cfg.Insights.Timeout,
		MaxContextChunks:    cfg.Insights.MaxContextChunks,
		SummaryChunksPerDoc: cfg.Insights.SummaryChunksPerDoc,
		AnswerChunksPerDoc:  cfg.Insights.AnswerChunksPerDoc,
	}, logger)

	insightCache := cache.NewInsightCache(redisWrapper, cfg.Insights.CacheTTL, logger)

	// ------------------------------------------------------------------
	// Request boundary: auth, rate limiting, hot-reloadable tuning.
	// ------------------------------------------------------------------
	skipAuth := cfg.Auth.SkipAuth || !cfg.Auth.Enabled
	var authMW *auth.Middleware
	if skipAuth {
		logger.Warn("Authentication disabled, all requests run as the development identity")
		authMW = auth.NewMiddleware(nil, true)
	} else {
		authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.ServiceKeys, logger)
		authMW = auth.NewMiddleware(authSvc, false)
	}

	var limiter *gateway.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = gateway.NewRateLimiter(redisWrapper, cfg.RateLimit.RequestsPerMinute, logger)
	}

	tuning := staticTuning(cfg.Retrieval)
	tuningPath := os.Getenv("TUNING_CONFIG_PATH")
	if tuningPath == "" {
		tuningPath = "config/tuning.yaml"
	}
	if _, statErr := os.Stat(tuningPath); statErr == nil {
		watcher, werr := config.NewTuningWatcher(tuningPath, cfg.Retrieval, logger)
		if werr == nil {
			if werr = watcher.Start(); werr == nil {
				defer watcher.Stop()
				tuning = watcher.Snapshot
				logger.Info("Retrieval tuning watcher active", zap.String("path", tuningPath))
			}
		}
		if werr != nil {
			logger.Warn("Tuning watcher unavailable, using static retrieval config", zap.Error(werr))
		}
	}

	apiServer := gateway.NewServer(pipeline, orchestrator, insightCache, dbClient,
		authMW, limiter, tuning, logger)

	// ------------------------------------------------------------------
	// Health endpoints and metrics on their own port.
	// ------------------------------------------------------------------
	healthManager := health.NewManager(logger)
	if cfg.Health.CheckInterval > 0 {
		healthManager.SetCheckInterval(cfg.Health.CheckInterval)
	}
	mustRegister := func(c health.Checker) {
		if err := healthManager.RegisterChecker(c); err != nil {
			logger.Fatal("Failed to register health checker", zap.Error(err))
		}
	}
	mustRegister(health.NewDatabaseHealthChecker(dbClient.GetDB(), dbClient.Wrapper(), logger))
	mustRegister(health.NewRedisHealthChecker(redisClient, redisWrapper, logger))
	mustRegister(health.NewHTTPDependencyChecker("vectorstore", cfg.Vector.URL+"/healthz", true, logger))
	mustRegister(health.NewHTTPDependencyChecker("embedder", cfg.Embeddings.BaseURL+"/health", true, logger))
	mustRegister(health.NewHTTPDependencyChecker("llm", cfg.LLM.BaseURL+"/health", false, logger))

	if err := healthManager.Start(ctx); err != nil {
		logger.Fatal("Failed to start health manager", zap.Error(err))
	}
	defer healthManager.Stop()

	healthMux := http.NewServeMux()
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(healthMux)
	healthMux.Handle("GET /metrics", promhttp.Handler())

	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HealthPort),
		Handler: healthMux,
	}
	go func() {
		logger.Info("Health server listening", zap.Int("port", cfg.Service.HealthPort))
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	// ------------------------------------------------------------------
	// Main API server.
	// ------------------------------------------------------------------
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:        apiServer.Routes(),
		ReadTimeout:    cfg.Service.ReadTimeout,
		WriteTimeout:   cfg.Service.WriteTimeout,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// ------------------------------------------------------------------
	// Graceful shutdown.
	// ------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Service.GracefulTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", zap.Error(err))
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// buildLogger constructs the service logger from configuration. Production
// defaults to sampled JSON output; development mode uses console encoding
// with human-readable timestamps.
func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if lc.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if lc.Encoding != "" {
		zcfg.Encoding = lc.Encoding
	}
	return zcfg.Build()
}

// staticTuning returns a tuning source that always reports the boot-time
// retrieval configuration.
func staticTuning(rc config.RetrievalConfig) func() config.RetrievalConfig {
	return func() config.RetrievalConfig { return rc }
}
