package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/richjun-project/vibescan/internal/database"
	"github.com/richjun-project/vibescan/internal/engine"
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

	logger.Info("starting VibeScan worker")

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Progress events go out over Redis pub/sub; the API servers fan
	// them out to their websocket clients.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	publisher := scan.NewRedisPublisher(redisClient, logger)
	lifecycle := scan.NewLifecycle(db, publisher, logger)
	watchdog := scan.NewWatchdog(db, lifecycle, cfg.Scanner.StaleAfter(), logger)

	eng := engine.NewDomainEngine(logger, &engine.Config{
		Timeout:         cfg.Scanner.Timeout(),
		PortConcurrency: cfg.Scanner.PortConcurrency,
	})

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, 10)

	// Create task handler
	handler := tasks.NewHandler(lifecycle, watchdog, eng, logger)

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Periodic watchdog sweep for stalled scans
	scheduler := queue.NewScheduler(&cfg.Redis)
	if _, err := scheduler.Register("@every 1m", tasks.NewWatchdogTickTask()); err != nil {
		logger.Error("failed to register watchdog schedule", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Close connections
	redisClient.Close()
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
