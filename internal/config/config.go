package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

const (
	QueueBackendRedis    = "redis"
	QueueBackendTemporal = "temporal"
)

type Config struct {
	AggregatorType domain.AggregatorType `env:"AGGREGATOR_TYPE" yaml:"aggregator_type"`

	MinBatchSize      int `env:"WITHDRAWAL_MIN_BATCH_SIZE" yaml:"min_batch_size"`
	MinWaitMinutes    int `env:"WITHDRAWAL_MIN_WAIT_MINUTES" yaml:"min_wait_minutes"`
	GroupSize         int `env:"WITHDRAWAL_GROUP_SIZE" yaml:"group_size"`
	CreateParallelism int `env:"CREATE_PARALLELISM" yaml:"create_parallelism"`
	RunLockTTLSeconds int `env:"RUN_LOCK_TTL_SECONDS" yaml:"run_lock_ttl_seconds"`

	QueueBackend     string `env:"QUEUE_BACKEND" yaml:"queue_backend"`
	QueueConcurrency int    `env:"QUEUE_CONCURRENCY" yaml:"queue_concurrency"`

	// Active jobs without a heartbeat for this long are handed back to wait.
	QueueStallTimeoutSeconds int `env:"QUEUE_STALL_TIMEOUT_SECONDS" yaml:"queue_stall_timeout_seconds"`

	LogMode   string `env:"LOG_MODE" yaml:"log_mode"`
	AdminAddr string `env:"ADMIN_ADDR" yaml:"admin_addr"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Temporal TemporalConfig `yaml:"temporal"`
	Otel     OtelConfig     `yaml:"otel"`

	MetricsEnabled bool `env:"METRICS_ENABLED" yaml:"metrics_enabled"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB" yaml:"db"`
}

type PostgresConfig struct {
	DSN      string `env:"POSTGRES_DSN" yaml:"dsn"`
	Host     string `env:"POSTGRES_HOST" yaml:"host"`
	Port     string `env:"POSTGRES_PORT" yaml:"port"`
	User     string `env:"POSTGRES_USER" yaml:"user"`
	Password string `env:"POSTGRES_PASSWORD" yaml:"password"`
	Name     string `env:"POSTGRES_NAME" yaml:"name"`
	SSLMode  string `env:"POSTGRES_SSLMODE" yaml:"sslmode"`
}

type TemporalConfig struct {
	Address        string `env:"TEMPORAL_ADDRESS" yaml:"address"`
	Namespace      string `env:"TEMPORAL_NAMESPACE" yaml:"namespace"`
	ClientCertPath string `env:"TEMPORAL_CLIENT_CERT_PATH" yaml:"client_cert_path"`
	ClientKeyPath  string `env:"TEMPORAL_CLIENT_KEY_PATH" yaml:"client_key_path"`
	ClientCAPath   string `env:"TEMPORAL_CLIENT_CA_PATH" yaml:"client_ca_path"`
	AutoRegister   bool   `env:"TEMPORAL_AUTO_REGISTER_NAMESPACE" yaml:"auto_register_namespace"`
}

type OtelConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" yaml:"enabled"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"endpoint"`
	Headers     string  `env:"OTEL_EXPORTER_OTLP_HEADERS" yaml:"headers"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" yaml:"insecure"`
	SampleRatio float64 `env:"OTEL_SAMPLER_RATIO" yaml:"sample_ratio"`
	Environment string  `env:"OTEL_ENVIRONMENT" yaml:"environment"`
}

// Default returns the values used when neither the config file nor the
// environment sets a field.
func Default() *Config {
	return &Config{
		AggregatorType:    domain.AggregatorWithdrawal,
		MinBatchSize:      10,
		MinWaitMinutes:    15,
		GroupSize:         50,
		CreateParallelism: 4,
		RunLockTTLSeconds: 300,
		QueueBackend:      QueueBackendRedis,
		QueueConcurrency:  1,

		QueueStallTimeoutSeconds: 30,

		LogMode:   "development",
		AdminAddr: ":8081",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "withdrawal",
			SSLMode: "disable",
		},
		Temporal: TemporalConfig{
			Namespace: "withdrawal-aggregator",
		},
		Otel: OtelConfig{
			SampleRatio: 0.1,
		},
		MetricsEnabled: true,
	}
}

// Load applies, in order: defaults, the YAML file at path (or CONFIG_FILE when
// path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.AggregatorType = domain.AggregatorType(strings.ToLower(strings.TrimSpace(string(cfg.AggregatorType))))
	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.AggregatorType.Validate(); err != nil {
		return err
	}
	if c.MinBatchSize < 1 {
		return domain.InvalidArgument("WITHDRAWAL_MIN_BATCH_SIZE must be >= 1")
	}
	if c.MinWaitMinutes < 0 {
		return domain.InvalidArgument("WITHDRAWAL_MIN_WAIT_MINUTES must be >= 0")
	}
	if c.GroupSize < 1 {
		return domain.InvalidArgument("WITHDRAWAL_GROUP_SIZE must be >= 1")
	}
	if c.QueueConcurrency < 1 {
		return domain.InvalidArgument("QUEUE_CONCURRENCY must be >= 1")
	}
	if c.CreateParallelism < 1 {
		return domain.InvalidArgument("CREATE_PARALLELISM must be >= 1")
	}
	switch c.QueueBackend {
	case QueueBackendRedis:
	case QueueBackendTemporal:
		if strings.TrimSpace(c.Temporal.Address) == "" {
			return domain.InvalidArgument("TEMPORAL_ADDRESS is required when QUEUE_BACKEND=temporal")
		}
	default:
		return domain.InvalidArgument(fmt.Sprintf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	return nil
}

func (c *Config) RunLockTTL() time.Duration {
	if c.RunLockTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RunLockTTLSeconds) * time.Second
}

func (c *Config) QueueStallTimeout() time.Duration {
	if c.QueueStallTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.QueueStallTimeoutSeconds) * time.Second
}

// ConnString prefers POSTGRES_DSN and otherwise assembles one from the parts.
func (p PostgresConfig) ConnString() string {
	if strings.TrimSpace(p.DSN) != "" {
		return p.DSN
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		sslmode,
	)
}
