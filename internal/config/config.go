// Package config provides unified configuration loading for the table engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the table engine.
type Config struct {
	Model         ModelConfig         `yaml:"model"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ModelConfig holds generative model settings.
type ModelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Name     string `yaml:"name"`
}

// PipelineConfig holds extraction pipeline tuning.
type PipelineConfig struct {
	PassThreshold    float64       `yaml:"pass_threshold"`
	EmptyCellCeiling float64       `yaml:"empty_cell_ceiling"`
	RepairTimeout    time.Duration `yaml:"repair_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	Workers          int           `yaml:"workers"`
}

// CacheConfig holds repair cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StorageConfig holds result store settings.
type StorageConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment
// overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Endpoint: "http://localhost:11434",
			Name:     "llama3.1:8b",
		},
		Pipeline: PipelineConfig{
			PassThreshold:    0.8,
			EmptyCellCeiling: 0.2,
			RepairTimeout:    30 * time.Second,
			MaxRetries:       2,
			Workers:          4,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "table-engine.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model endpoint must not be empty")
	}
	if c.Pipeline.PassThreshold <= 0 || c.Pipeline.PassThreshold > 1 {
		return fmt.Errorf("pass_threshold must be in (0, 1]: %g", c.Pipeline.PassThreshold)
	}
	if c.Pipeline.EmptyCellCeiling <= 0 || c.Pipeline.EmptyCellCeiling > 1 {
		return fmt.Errorf("empty_cell_ceiling must be in (0, 1]: %g", c.Pipeline.EmptyCellCeiling)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative: %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("workers must be at least 1: %d", c.Pipeline.Workers)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("postgres storage requires a DSN")
	}
	return nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Storage.Driver == "sqlite" {
		return c.Storage.SQLite.Path
	}
	return c.Storage.Postgres.DSN
}

// DatabaseDriver returns the database/sql driver name for the configured
// storage driver.
func (c *Config) DatabaseDriver() string {
	if c.Storage.Driver == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODEL_ENDPOINT"); v != "" {
		cfg.Model.Endpoint = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("REPAIR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RepairTimeout = d
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRetries = n
		}
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Storage.Driver = "sqlite"
			cfg.Storage.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Storage.Driver = "postgres"
			cfg.Storage.Postgres.DSN = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
