package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/media-fetch/internal/api/handler"
	"github.com/cuongbtq/media-fetch/internal/api/router"
	"github.com/cuongbtq/media-fetch/internal/bootstrap"
	"github.com/cuongbtq/media-fetch/internal/config"
	"github.com/cuongbtq/media-fetch/internal/executor"
	"github.com/cuongbtq/media-fetch/internal/queue"
	"github.com/cuongbtq/media-fetch/internal/tracker"
	"github.com/cuongbtq/media-fetch/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("dispatch", cfg.Dispatch.Mode),
	)

	ctx := context.Background()

	store, err := bootstrap.OpenStore(ctx, &cfg.Storage, appLogger.Component("store"))
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer store.Close()

	healthChecks := map[string]handler.HealthCheck{}
	if store.Check != nil {
		healthChecks[store.Driver] = store.Check
	}

	// Without a dispatcher the tracker runs jobs in this process
	var (
		dispatcher   tracker.Dispatcher
		rabbitClient *rabbitmq.Client
	)
	if cfg.Dispatch.Mode == config.DispatchRabbitMQ {
		rabbitClient, err = bootstrap.NewRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		dispatcher = queue.NewPublisher(rabbitClient, appLogger.Component("queue"))
		healthChecks["rabbitmq"] = rabbitClient.HealthCheck
		appLogger.Info("RabbitMQ connection established")
	}

	exec, err := newExecutor(cfg, appLogger.Component("executor"))
	if err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}

	jobTracker, err := tracker.New(&tracker.Config{
		Store:      store,
		Executor:   exec,
		Dispatcher: dispatcher,
		Logger:     appLogger.Component("tracker"),
		StaleAfter: cfg.Dispatch.StaleAfter,
		RetryDelay: cfg.Dispatch.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}

	r := initRouter(cfg, appLogger.Logger, jobTracker, healthChecks)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.String("output_dir", cfg.Executor.OutputDir),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	waitForJobs(shutdownCtx, jobTracker, appLogger.Logger)

	appLogger.Info("Server shutdown complete")
	return nil
}

// newExecutor builds the executor. In rabbitmq mode jobs run in the worker
// service, so the API only needs something that satisfies the tracker.
func newExecutor(cfg *config.Config, logger *slog.Logger) (tracker.Executor, error) {
	if cfg.Dispatch.Mode == config.DispatchRabbitMQ {
		return remoteExecutor{}, nil
	}
	return bootstrap.NewExecutor(&cfg.Executor, logger)
}

// remoteExecutor is never called: the tracker only executes jobs it
// dispatched locally
type remoteExecutor struct{}

func (remoteExecutor) Execute(ctx context.Context, req executor.Request) (*executor.Artifact, error) {
	return nil, fmt.Errorf("job %s must be executed by the worker service", req.JobID)
}

// waitForJobs lets locally dispatched jobs reach a terminal status
func waitForJobs(ctx context.Context, t *tracker.Tracker, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All local jobs finished")
	case <-ctx.Done():
		logger.Warn("Shutdown timeout exceeded while jobs were still running")
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobs handler.JobService, checks map[string]handler.HealthCheck) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Jobs:         jobs,
		OutputDir:    cfg.Executor.OutputDir,
		ServiceName:  cfg.App.Name,
		HealthChecks: checks,
	}, router.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
}
