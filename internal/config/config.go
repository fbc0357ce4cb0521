package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuongbtq/media-fetch/internal/executor"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Dispatch modes
const (
	DispatchLocal    = "local"
	DispatchRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Storage   StorageConfig   `yaml:"storage"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Worker    WorkerConfig    `yaml:"worker"`
	Executor  ExecutorConfig  `yaml:"executor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// StorageConfig selects and configures the job record store
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres DatabaseConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	// KeyTTL of zero keeps records forever
	KeyTTL time.Duration `yaml:"key_ttl"`
}

// DispatchConfig selects how submitted jobs reach Process
type DispatchConfig struct {
	Mode string `yaml:"mode"`
	// StaleAfter is how long a job may stay Processing before another
	// delivery takes it over. It must outlast executor.timeout.
	StaleAfter time.Duration `yaml:"stale_after"`
	// RetryDelay spaces retries of a job that failed transiently
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	PrefetchCount   int           `yaml:"prefetch_count"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExecutorConfig holds the extraction tool settings
type ExecutorConfig struct {
	YtDlpPath     string          `yaml:"ytdlp_path"`
	FFmpegPath    string          `yaml:"ffmpeg_path"`
	OutputDir     string          `yaml:"output_dir"`
	Timeout       time.Duration   `yaml:"timeout"`
	SocketTimeout time.Duration   `yaml:"socket_timeout"`
	Profiles      []ProfileConfig `yaml:"profiles"`
}

// ProfileConfig is one entry of the ordered fallback list
type ProfileConfig struct {
	Name         string   `yaml:"name"`
	Format       string   `yaml:"format"`
	ExtractAudio bool     `yaml:"extract_audio"`
	AudioFormat  string   `yaml:"audio_format"`
	AudioQuality string   `yaml:"audio_quality"`
	PlayerClient string   `yaml:"player_client"`
	ExtraArgs    []string `yaml:"extra_args"`
}

// RateLimitConfig holds the per-client limit on submit routes. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads and parses the configuration file, then applies defaults and
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchLocal
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.Executor.YtDlpPath == "" {
		c.Executor.YtDlpPath = "yt-dlp"
	}
	if c.Executor.SocketTimeout == 0 {
		c.Executor.SocketTimeout = 20 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = c.Executor.Timeout
	}
	if c.Dispatch.StaleAfter == 0 && c.Executor.Timeout > 0 {
		c.Dispatch.StaleAfter = c.Executor.Timeout + 2*time.Minute
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = 5 * time.Second
	}
}

// applyEnv lets the environment (and a .env file loaded beforehand) win over
// the file for the port and for secrets
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Storage.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("MEDIAFETCH_OUTPUT_DIR"); v != "" {
		c.Executor.OutputDir = v
	}

	return nil
}

// ExecutorProfiles converts the configured profiles. An empty list yields
// nil so the executor falls back to its defaults.
func (c *ExecutorConfig) ExecutorProfiles() []executor.Profile {
	if len(c.Profiles) == 0 {
		return nil
	}

	profiles := make([]executor.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		profiles = append(profiles, executor.Profile{
			Name:         p.Name,
			Format:       p.Format,
			ExtractAudio: p.ExtractAudio,
			AudioFormat:  p.AudioFormat,
			AudioQuality: p.AudioQuality,
			PlayerClient: p.PlayerClient,
			ExtraArgs:    p.ExtraArgs,
		})
	}
	return profiles
}

// ValidateAPIConfig checks everything the API service needs. In local
// dispatch mode the API also runs jobs, so the executor is checked too.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit requests_per_second must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit burst must be greater than 0 when limiting is enabled")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateRecovery(); err != nil {
		return err
	}

	switch c.Dispatch.Mode {
	case DispatchLocal:
		return c.validateExecutor()
	case DispatchRabbitMQ:
		if c.Storage.Driver == StorageMemory {
			return fmt.Errorf("storage driver %q cannot be shared with workers, use %q or %q", StorageMemory, StoragePostgres, StorageRedis)
		}
		if c.Executor.OutputDir == "" {
			return fmt.Errorf("executor output_dir is required")
		}
		return c.validateRabbitMQ()
	default:
		return fmt.Errorf("unknown dispatch mode: %q", c.Dispatch.Mode)
	}
}

// ValidateWorkerConfig checks everything the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Dispatch.Mode != DispatchRabbitMQ {
		return fmt.Errorf("worker service requires dispatch mode %q, got %q", DispatchRabbitMQ, c.Dispatch.Mode)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Storage.Driver == StorageMemory {
		return fmt.Errorf("storage driver %q cannot be shared with the api service", StorageMemory)
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PrefetchCount < 0 {
		return fmt.Errorf("worker prefetch_count must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if err := c.validateRecovery(); err != nil {
		return err
	}

	return c.validateExecutor()
}

// validateRecovery keeps a running job from being taken over by a redelivery
func (c *Config) validateRecovery() error {
	if c.Dispatch.StaleAfter < 0 {
		return fmt.Errorf("dispatch stale_after must not be negative")
	}
	if c.Dispatch.StaleAfter > 0 && c.Dispatch.StaleAfter <= c.Executor.Timeout {
		return fmt.Errorf("dispatch stale_after (%s) must be greater than executor timeout (%s)", c.Dispatch.StaleAfter, c.Executor.Timeout)
	}
	if c.Dispatch.RetryDelay < 0 {
		return fmt.Errorf("dispatch retry_delay must not be negative")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case StorageMemory:
		return nil
	case StoragePostgres:
		db := c.Storage.Postgres
		if db.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if db.Port < MinPort || db.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", db.Port, MinPort, MaxPort)
		}
		if db.Database == "" {
			return fmt.Errorf("database name is required")
		}
		return nil
	case StorageRedis:
		r := c.Storage.Redis
		if r.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if r.Port < MinPort || r.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", r.Port, MinPort, MaxPort)
		}
		if r.KeyTTL < 0 {
			return fmt.Errorf("redis key_ttl must not be negative")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateExecutor() error {
	if c.Executor.OutputDir == "" {
		return fmt.Errorf("executor output_dir is required")
	}

	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor timeout must be greater than 0")
	}

	for _, p := range c.Executor.ExecutorProfiles() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid executor profile: %w", err)
		}
	}

	return nil
}
