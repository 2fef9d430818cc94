package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/config"

	"reminder-service/internal/domain/service"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Bus       BusConfig       `yaml:"bus"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sender    SenderConfig    `yaml:"sender"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" envconfig:"SERVICE_NAME"`
	Environment string `yaml:"environment" envconfig:"SERVICE_ENVIRONMENT"`
	Version     string `yaml:"version" envconfig:"SERVICE_VERSION"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DATABASE_DRIVER"` // postgres|sqlite
	Host            string        `yaml:"host" envconfig:"DATABASE_HOST"`
	Port            int           `yaml:"port" envconfig:"DATABASE_PORT"`
	User            string        `yaml:"user" envconfig:"DATABASE_USER"`
	Password        string        `yaml:"password" envconfig:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" envconfig:"DATABASE_NAME"`
	SSLMode         string        `yaml:"ssl_mode" envconfig:"DATABASE_SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DATABASE_CONN_MAX_LIFETIME"`
	SQLitePath      string        `yaml:"sqlite_path" envconfig:"DATABASE_SQLITE_PATH"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"REDIS_ENABLED"`
	Addr         string        `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password     string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" envconfig:"REDIS_DB"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"REDIS_MAX_RETRIES"`
	PoolSize     int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" envconfig:"KAFKA_TOPIC"`
	GroupID      string        `yaml:"group_id" envconfig:"KAFKA_GROUP_ID"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"KAFKA_WRITE_TIMEOUT"`
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"KAFKA_MAX_ATTEMPTS"`
}

type BusConfig struct {
	Driver     string `yaml:"driver" envconfig:"BUS_DRIVER"` // kafka|inproc
	BufferSize int    `yaml:"buffer_size" envconfig:"BUS_BUFFER_SIZE"`
}

type TelegramConfig struct {
	Token       string `yaml:"token" envconfig:"BOT_TOKEN"`
	APIEndpoint string `yaml:"api_endpoint" envconfig:"TELEGRAM_API_ENDPOINT"`
	Debug       bool   `yaml:"debug" envconfig:"TELEGRAM_DEBUG"`
}

type SchedulerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" envconfig:"SCHEDULER_POLL_INTERVAL"`
	Window            time.Duration `yaml:"window" envconfig:"SCHEDULER_WINDOW"`
	DeliveryPolicy    string        `yaml:"delivery_policy" envconfig:"SCHEDULER_DELIVERY_POLICY"`
	Retention         time.Duration `yaml:"retention" envconfig:"SCHEDULER_RETENTION"`
	RetentionInterval time.Duration `yaml:"retention_interval" envconfig:"SCHEDULER_RETENTION_INTERVAL"`
}

type SenderConfig struct {
	MinInterval     time.Duration `yaml:"min_interval" envconfig:"SENDER_MIN_INTERVAL"`
	RateLimitMargin time.Duration `yaml:"rate_limit_margin" envconfig:"SENDER_RATE_LIMIT_MARGIN"`
	MaxRetries      int           `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" envconfig:"SENDER_RETRY_BACKOFF"`
	ThrottleBackend string        `yaml:"throttle_backend" envconfig:"SENDER_THROTTLE_BACKEND"` // memory|redis
}

type LoggingConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" envconfig:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" envconfig:"LOG_MAX_AGE_DAYS"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" envconfig:"HTTP_ADDR"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if configPath == "" {
		configPath = getEnv("CONFIG_PATH", "./config/base.yaml")
	}

	provider, err := config.NewYAML(
		config.File(configPath),
		config.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	cfg := Default()
	if err := provider.Get(config.Root).Populate(cfg); err != nil {
		return nil, fmt.Errorf("failed to populate config: %w", err)
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used for any key the YAML file omits
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "reminder-service", Environment: "development"},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			MaxOpenConns: 10,
			SQLitePath:   "./data/reminders.db",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        service.FireTopic,
			GroupID:      "reminders-sender",
			WriteTimeout: 10 * time.Second,
			MaxAttempts:  3,
		},
		Bus: BusConfig{Driver: "kafka", BufferSize: 1024},
		Scheduler: SchedulerConfig{
			PollInterval:      30 * time.Second,
			Window:            60 * time.Second,
			DeliveryPolicy:    "prefer_loss",
			Retention:         7 * 24 * time.Hour,
			RetentionInterval: time.Hour,
		},
		Sender: SenderConfig{
			MinInterval:     time.Second,
			RateLimitMargin: time.Second,
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			ThrottleBackend: "memory",
		},
		Logging: LoggingConfig{Level: "info", OutputPath: "stdout", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		HTTP:    HTTPConfig{Addr: ":8080"},
	}
}

// overrideFromEnv overrides config values with environment variables if present.
// Unset variables leave the YAML values untouched. Every field carries an explicit
// envconfig name, otherwise envconfig would read the bare field name (WINDOW, DEBUG).
func (c *Config) overrideFromEnv() error {
	sections := []interface{}{
		&c.Service, &c.Database, &c.Redis, &c.Kafka, &c.Bus,
		&c.Telegram, &c.Scheduler, &c.Sender, &c.Logging, &c.HTTP,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return fmt.Errorf("failed to read environment overrides: %w", err)
		}
	}
	if val := os.Getenv("KAFKA_BROKER"); val != "" {
		c.Kafka.Brokers = []string{val}
	}
	return nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	if c.Scheduler.Window <= 0 {
		errs = append(errs, errors.New("scheduler.window must be positive"))
	} else if c.Scheduler.Window < c.Scheduler.PollInterval {
		errs = append(errs, fmt.Errorf("scheduler.window %s is shorter than scheduler.poll_interval %s", c.Scheduler.Window, c.Scheduler.PollInterval))
	}
	switch c.Scheduler.DeliveryPolicy {
	case "prefer_loss", "prefer_duplicate":
	default:
		errs = append(errs, fmt.Errorf("scheduler.delivery_policy %q is not prefer_loss or prefer_duplicate", c.Scheduler.DeliveryPolicy))
	}
	if c.Scheduler.Retention < 24*time.Hour {
		errs = append(errs, errors.New("scheduler.retention must be at least 24h"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not postgres or sqlite", c.Database.Driver))
	}
	switch c.Bus.Driver {
	case "kafka", "inproc":
	default:
		errs = append(errs, fmt.Errorf("bus.driver %q is not kafka or inproc", c.Bus.Driver))
	}
	switch c.Sender.ThrottleBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("sender.throttle_backend redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("sender.throttle_backend %q is not memory or redis", c.Sender.ThrottleBackend))
	}
	if c.Sender.MinInterval < 0 || c.Sender.MaxRetries < 0 {
		errs = append(errs, errors.New("sender.min_interval and sender.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

// GetDSN returns PostgreSQL connection string in URL format for pgx/v5
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
