// Package main provides the API server entry point for the holder rounds service.
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

	"github.com/holder-rounds/internal/adapter"
	"github.com/holder-rounds/internal/api"
	"github.com/holder-rounds/internal/config"
	"github.com/holder-rounds/internal/logging"
	"github.com/holder-rounds/internal/metrics"
	"github.com/holder-rounds/internal/notify"
	"github.com/holder-rounds/internal/ratelimit"
	"github.com/holder-rounds/internal/retry"
	"github.com/holder-rounds/internal/service"
	"github.com/holder-rounds/internal/storage"
)

func main() {
	fmt.Println("Holder Rounds API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// databases may come up after the server in compose setups
	startupRetry := retry.DefaultRetryConfig()

	var postgres *storage.PostgresDB
	if err := retry.WithExponentialBackoff(ctx, startupRetry, func(ctx context.Context, attempt int) error {
		postgres, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Warnf("Postgres not ready (attempt %d)", attempt)
		}
		return err
	}).Err(); err != nil {
		logger.WithError(err).Fatalf("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var redis *storage.RedisCache
	if err := retry.WithExponentialBackoff(ctx, startupRetry, func(ctx context.Context, attempt int) error {
		redis, err = storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warnf("Redis not ready (attempt %d)", attempt)
		}
		return err
	}).Err(); err != nil {
		logger.WithError(err).Fatalf("Failed to connect to Redis")
	}
	defer redis.Close()

	// ClickHouse only backs holder history, so the server runs without it
	var clickhouse *storage.ClickHouseDB
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err = storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warnf("ClickHouse unavailable, holder history disabled")
			clickhouse = nil
		} else {
			defer clickhouse.Close()
		}
	}

	logger.Info("Database connections established")

	// Initialize chain access
	logger.Info("Initializing chain adapter...")
	pool, err := adapter.NewRPCPool(ctx, &adapter.RPCPoolConfig{
		Endpoints:      cfg.Chain.RPCEndpoints,
		CooldownTime:   cfg.Chain.RPCCooldown,
		RequestTimeout: cfg.Chain.RPCTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create RPC pool")
	}
	defer pool.Close()

	tracker, err := ratelimit.NewCUBudgetTracker(&ratelimit.CUBudgetTrackerConfig{
		Redis:       redis.Client(),
		TotalBudget: cfg.Chain.CUBudget,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create CU budget tracker")
	}

	syncClient, err := ratelimit.NewRateLimitedClient(&ratelimit.RateLimitedClientConfig{
		Client:       pool,
		Tracker:      tracker,
		CostRegistry: ratelimit.NewCUCostRegistry(nil),
		Priority:     ratelimit.PriorityHigh,
		OnThrottle: func(method string, priority ratelimit.Priority) {
			metrics.RPCThrottledTotal.WithLabelValues(method, priority.String()).Inc()
		},
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create rate limited client")
	}

	chain, err := adapter.NewERC20Adapter(&adapter.ERC20AdapterConfig{
		ChainID:          cfg.Chain.ChainID,
		Client:           syncClient,
		AdminClient:      syncClient.WithPriority(ratelimit.PriorityLow),
		ScanFromBlock:    cfg.Chain.ScanFromBlock,
		LogChunkSize:     cfg.Chain.LogChunkSize,
		FetchConcurrency: cfg.Chain.FetchConcurrency,
		RewardPrivateKey: cfg.Chain.RewardPrivateKey,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create chain adapter")
	}

	// Initialize repositories
	holderRepo := storage.NewHolderRepository(postgres)
	roundRepo := storage.NewRoundRepository(postgres)
	submissionRepo := storage.NewSubmissionRepository(postgres)
	configRepo := storage.NewConfigRepository(postgres)

	// Initialize cache service
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	photos, err := storage.NewPhotoStore(&cfg.Photos)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to initialize photo store")
	}

	// Initialize services
	logger.Info("Initializing services...")

	hub := notify.NewHub(notify.DefaultBufferSize)

	holderCfg := &service.HolderServiceConfig{
		Fetcher:      chain,
		Store:        holderRepo,
		Config:       configRepo,
		Observer:     hub,
		TokenAddress: cfg.Chain.TokenContractAddress,
		Interval:     cfg.Game.HolderSyncInterval,
		TickTimeout:  cfg.Game.HolderSyncTimeout,
		TopN:         cfg.Game.TopHoldersLimit,
	}
	if clickhouse != nil {
		history := storage.NewHolderHistoryRepository(clickhouse)
		holderCfg.History = history
		holderCfg.HistoryRead = history
	}
	holderService, err := service.NewHolderService(holderCfg)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create holder service")
	}

	roundManager, err := service.NewRoundManager(&service.RoundManagerConfig{
		Store:            roundRepo,
		Holders:          holderService,
		Observer:         hub,
		RoundDuration:    cfg.Game.RoundDuration,
		SubmissionWindow: cfg.Game.SubmissionWindow,
		PollInterval:     cfg.Game.RoundPollInterval,
		TickTimeout:      cfg.Game.RoundTickTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create round manager")
	}

	submissionService, err := service.NewSubmissionService(&service.SubmissionServiceConfig{
		Store:          submissionRepo,
		Rounds:         roundManager,
		Photos:         photos,
		Cache:          cacheService,
		MaxPhotoSizeMB: cfg.Game.MaxPhotoSizeMB,
		GalleryLimit:   cfg.Game.ApprovedGalleryLimit,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create submission service")
	}

	statsService := service.NewStatsService(&service.StatsServiceConfig{
		Rounds:      roundRepo.Count,
		Submissions: submissionRepo,
		Holders:     holderRepo.Count,
		Cache:       cacheService,
	})

	logger.Info("Services initialized")

	// Start the timers
	if err := holderService.Start(ctx); err != nil {
		logger.WithError(err).Fatalf("Failed to start holder sync")
	}
	if err := roundManager.Start(ctx); err != nil {
		logger.WithError(err).Fatalf("Failed to start round manager")
	}

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigin:      cfg.Server.CORSOrigin,
		RequestsPerSec:  cfg.RateLimit.RequestsPerSecond,
		Burst:           cfg.RateLimit.Burst,
		AdminAddresses:  cfg.Auth.AdminAddresses,
		SignatureMaxAge: cfg.Auth.SignatureMaxAge,
		TopHoldersLimit: cfg.Game.TopHoldersLimit,
		// base64 inflates the photo by 4/3, plus room for the JSON envelope
		MaxBodyBytes:   int64(cfg.Game.MaxPhotoSizeMB)*1024*1024*4/3 + 64*1024,
		MetricsEnabled: cfg.Metrics.Enabled,
	}
	if !cfg.Photos.CloudinaryEnabled() {
		serverConfig.PhotoDir = cfg.Photos.LocalDir
	}

	server := api.NewServer(serverConfig, &api.Services{
		Holders:     holderService,
		Rounds:      roundManager,
		Submissions: submissionService,
		Stats:       statsService,
		Config:      service.NewConfigService(configRepo),
		Rewards:     service.NewRewardService(chain),
		Verify:      chain.VerifySignature,
		Observers:   notify.NewWebSocketHandler(hub, cfg.Server.CORSOrigin),
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatalf("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := roundManager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warnf("Round manager did not stop cleanly")
	}
	if err := holderService.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warnf("Holder sync did not stop cleanly")
	}
	cancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatalf("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
