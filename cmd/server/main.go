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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/richjun-project/vibescan/internal/api"
	"github.com/richjun-project/vibescan/internal/auth"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database"
	"github.com/richjun-project/vibescan/internal/quota"
	"github.com/richjun-project/vibescan/internal/realtime"
	"github.com/richjun-project/vibescan/internal/scan"
	"github.com/richjun-project/vibescan/internal/tasks"
	"github.com/richjun-project/vibescan/pkg/config"
	"github.com/richjun-project/vibescan/pkg/queue"
	"github.com/richjun-project/vibescan/pkg/util"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting VibeScan server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		redisClient = nil
	}

	// Initialize Asynq client for background job enqueuing
	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService)
	billingService := billing.NewService(db, logger)
	ledger := quota.NewLedger(db, logger)
	registry := scan.NewRegistry(db, logger)

	// Progress events: the hub always serves websocket clients. With
	// Redis available, worker events arrive over pub/sub through the
	// bridge; without it, lifecycle publishes straight into the hub
	// (single-process mode, useful for local development).
	hub := realtime.NewHub(registry, logger)

	var publisher scan.Publisher = hub
	if redisClient != nil {
		publisher = scan.NewRedisPublisher(redisClient, logger)
	}

	lifecycle := scan.NewLifecycle(db, publisher, logger)

	var jobQueue scan.JobQueue
	if asynqClient != nil {
		jobQueue = tasks.NewAsynqQueue(asynqClient)
	}
	dispatcher := scan.NewDispatcher(db, lifecycle, ledger, billingService, jobQueue, logger)

	// Bridge worker events back into this process's hub
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisClient != nil {
		bridge := realtime.NewBridge(redisClient, hub, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("event bridge stopped", "error", err)
			}
		}()
	}

	// Create router
	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		JWTService:     jwtService,
		AuthService:    authService,
		BillingService: billingService,
		Ledger:         ledger,
		Dispatcher:     dispatcher,
		Registry:       registry,
		Hub:            hub,
		WebhookSecret:  cfg.Billing.WebhookSecret,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Close Asynq client
	if asynqClient != nil {
		asynqClient.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}
