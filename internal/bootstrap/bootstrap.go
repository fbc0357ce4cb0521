// Package bootstrap turns configuration sections into ready infrastructure
// for the service binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-fetch/internal/config"
	"github.com/cuongbtq/media-fetch/internal/executor"
	"github.com/cuongbtq/media-fetch/internal/store/memory"
	"github.com/cuongbtq/media-fetch/internal/store/postgres"
	redisstore "github.com/cuongbtq/media-fetch/internal/store/redis"
	"github.com/cuongbtq/media-fetch/internal/tracker"
	"github.com/cuongbtq/media-fetch/shared/logger"
	"github.com/cuongbtq/media-fetch/shared/postgresql"
	"github.com/cuongbtq/media-fetch/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/media-fetch/shared/redis"
)

// Store is an opened record store with its backing connection
type Store struct {
	tracker.Store
	Driver string
	// Check is nil for the in-memory store
	Check func(ctx context.Context) error
	close func() error
}

// Close releases the backing connection, if any
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// NewLogger initializes the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// OpenStore connects the configured job record store
func OpenStore(ctx context.Context, cfg *config.StorageConfig, log *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		log.Info("Using in-memory job store")
		return &Store{Store: memory.New(), Driver: config.StorageMemory}, nil

	case config.StoragePostgres:
		client, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			Database:        cfg.Postgres.Database,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		}, log)
		if err != nil {
			return nil, err
		}

		store := postgres.NewStore(client, log)
		if cfg.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				client.Close()
				return nil, err
			}
		}

		return &Store{
			Store:  store,
			Driver: config.StoragePostgres,
			Check:  client.HealthCheck,
			close:  client.Close,
		}, nil

	case config.StorageRedis:
		client, err := sharedredis.NewClient(&sharedredis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, log)
		if err != nil {
			return nil, err
		}

		return &Store{
			Store:  redisstore.NewStore(client.GetClient(), cfg.Redis.KeyTTL, log),
			Driver: config.StorageRedis,
			Check:  client.HealthCheck,
			close:  client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}

// NewExecutor builds the work executor from its config section
func NewExecutor(cfg *config.ExecutorConfig, log *slog.Logger) (*executor.Executor, error) {
	return executor.New(&executor.Config{
		BinaryPath:    cfg.YtDlpPath,
		FFmpegPath:    cfg.FFmpegPath,
		OutputDir:     cfg.OutputDir,
		Timeout:       cfg.Timeout,
		SocketTimeout: cfg.SocketTimeout,
		Profiles:      cfg.ExecutorProfiles(),
		Logger:        log,
	})
}

// NewRabbitMQ connects to the broker and declares the job topology
func NewRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}
