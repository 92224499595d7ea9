// Package config provides configuration management for Loom.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	River      RiverConfig      `mapstructure:"river"`
	EventStore EventStoreConfig `mapstructure:"eventstore"`
	Saga       SagaConfig       `mapstructure:"saga"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Ordering   OrderingConfig   `mapstructure:"ordering"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// JWTSigningKey enables the optional bearer-token middleware that
	// stamps userId/role into command metadata. Empty disables it.
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One shared pgxpool serves the stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// EventStoreConfig contains event store policy settings.
type EventStoreConfig struct {
	// SnapshotEvery takes an aggregate snapshot every N appended events.
	// 0 disables snapshots entirely; correctness must hold either way.
	SnapshotEvery int `mapstructure:"snapshot_every"`

	// AppendRetries bounds reload-and-retry on version conflicts inside
	// the aggregate process.
	AppendRetries int `mapstructure:"append_retries"`
}

// SagaConfig contains saga runtime settings.
type SagaConfig struct {
	// IdleTTL tears a saga process down after this long without a
	// signal. A later signal starts a fresh process at the same address.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`

	// CommandRetention bounds how long terminal commands are kept.
	CommandRetention time.Duration `mapstructure:"command_retention"`

	// PendingRedeliverAfter re-dispatches commands stuck in pending for
	// longer than this (at-least-once delivery backstop).
	PendingRedeliverAfter time.Duration `mapstructure:"pending_redeliver_after"`
}

// OrderingConfig tunes the built-in ordering domain.
type OrderingConfig struct {
	// ShipDelay is the fulfillment lag between order confirmation and
	// the shipping command.
	ShipDelay time.Duration `mapstructure:"ship_delay"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	ProcessPoolSize int `mapstructure:"process_pool_size"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	// Missing file is fine; a malformed one is not.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "loom")
	v.SetDefault("database.database", "loom")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("river.max_workers", 50)
	v.SetDefault("river.completed_job_retention_period", 24*time.Hour)

	v.SetDefault("eventstore.snapshot_every", 10)
	v.SetDefault("eventstore.append_retries", 3)

	v.SetDefault("saga.idle_ttl", time.Minute)
	v.SetDefault("saga.command_retention", 30*24*time.Hour)
	v.SetDefault("saga.pending_redeliver_after", 5*time.Minute)

	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.process_pool_size", 512)

	v.SetDefault("ordering.ship_delay", 3*time.Second)
}

// bindEnvVars wires the standard environment variable names. Viper's
// AutomaticEnv does not cover nested keys, so bind explicitly.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.host", "DATABASE_HOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT")
	_ = v.BindEnv("database.user", "DATABASE_USER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("database.database", "DATABASE_NAME")
	_ = v.BindEnv("database.sslmode", "DATABASE_SSLMODE")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.jwt_signing_key", "JWT_SIGNING_KEY")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")
	_ = v.BindEnv("eventstore.snapshot_every", "EVENTSTORE_SNAPSHOT_EVERY")
	_ = v.BindEnv("saga.idle_ttl", "SAGA_IDLE_TTL")
	_ = v.BindEnv("river.max_workers", "RIVER_MAX_WORKERS")
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.EventStore.SnapshotEvery < 0 {
		return fmt.Errorf("eventstore.snapshot_every must be >= 0, got %d", c.EventStore.SnapshotEvery)
	}
	if c.EventStore.AppendRetries < 1 {
		return fmt.Errorf("eventstore.append_retries must be >= 1, got %d", c.EventStore.AppendRetries)
	}
	if c.Saga.IdleTTL <= 0 {
		return fmt.Errorf("saga.idle_ttl must be positive, got %s", c.Saga.IdleTTL)
	}
	return nil
}
