package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/media-fetch/internal/bootstrap"
	"github.com/cuongbtq/media-fetch/internal/config"
	"github.com/cuongbtq/media-fetch/internal/tracker"
	"github.com/cuongbtq/media-fetch/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, &cfg.Storage, appLogger.Component("store"))
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer store.Close()

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	exec, err := bootstrap.NewExecutor(&cfg.Executor, appLogger.Component("executor"))
	if err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}

	// Jobs arrive through the queue, so this tracker never dispatches
	jobTracker, err := tracker.New(&tracker.Config{
		Store:      store,
		Executor:   exec,
		Logger:     appLogger.Component("tracker"),
		StaleAfter: cfg.Dispatch.StaleAfter,
		RetryDelay: cfg.Dispatch.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Component("worker"),
		Source:        rabbitClient,
		Processor:     jobTracker,
		WorkerID:      workerID,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Worker.PrefetchCount,
		RequeueDelay:  cfg.Dispatch.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	if err := workerInstance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
		slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
	)

	// Stop first so in-flight jobs can finish; cancel only when they overrun
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, cancelling in-flight jobs")
		cancel()
		<-done
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
