package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (CSLOGWATCH_PROJECT_NAME, ...)
const EnvPrefix = "CSLOGWATCH"

// Config holds all configuration for the application
type Config struct {
	ProjectName        string `mapstructure:"project_name"`
	MonitoredDirectory string `mapstructure:"monitored_directory"`
	Database           string `mapstructure:"database"` // SQLite store path
	StateDir           string `mapstructure:"state_dir"` // Snapshot file and carry store live here

	// File selection
	IncludePattern string   `mapstructure:"include_pattern"` // doublestar pattern relative to the monitored directory
	ExcludeFiles   []string `mapstructure:"exclude_files"`   // Companion logs that are never parsed

	// Parser settings
	AssumedYear int `mapstructure:"assumed_year"` // Log lines carry MM/DD only

	// Dispatcher shards and enumeration parallelism
	Workers int `mapstructure:"workers"`

	// Observability
	LogLevel string        `mapstructure:"log_level"`
	LogFile  string        `mapstructure:"log_file"`
	Tracing  TracingConfig `mapstructure:"tracing"`

	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"` // "grpc" or "http"
}

// ClickHouseConfig configures the optional ClickHouse mirror
type ClickHouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
}

// RetryConfig configures retries of transient store errors
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
}

// Load reads the YAML file at path (if it exists) and applies CSLOGWATCH_*
// environment overrides on top of it
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_name", "")
	v.SetDefault("monitored_directory", "")
	v.SetDefault("database", "cslogwatch.db")
	v.SetDefault("state_dir", ".")

	v.SetDefault("include_pattern", "**/*.log")
	v.SetDefault("exclude_files", []string{"events.log", "weblog.log", "downloads.log"})

	v.SetDefault("assumed_year", 2019)
	v.SetDefault("workers", 4)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "cslogwatch")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 100)
	v.SetDefault("retry.max_delay_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ProjectName == "" {
		return fmt.Errorf("project_name is required")
	}
	if c.MonitoredDirectory == "" {
		return fmt.Errorf("monitored_directory is required")
	}
	info, err := os.Stat(c.MonitoredDirectory)
	if err != nil {
		return fmt.Errorf("monitored directory not found (%s): %w", c.MonitoredDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("monitored_directory %s is not a directory", c.MonitoredDirectory)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if !doublestar.ValidatePattern(c.IncludePattern) {
		return fmt.Errorf("include_pattern %q is not a valid pattern", c.IncludePattern)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.AssumedYear < 1970 || c.AssumedYear > 9999 {
		return fmt.Errorf("assumed_year must be between 1970 and 9999")
	}
	if c.ClickHouse.Enabled {
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
		}
		if c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535 {
			return fmt.Errorf("clickhouse.port must be between 1 and 65535")
		}
		if c.ClickHouse.Database == "" {
			return fmt.Errorf("clickhouse.database is required when clickhouse is enabled")
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	return nil
}
