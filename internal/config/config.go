// Package config loads and validates the campaigner YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokopoints/campaigner/internal/policy"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Directory DirectoryConfig `yaml:"directory"`
	Transport TransportConfig `yaml:"transport"`
	Outcomes  OutcomesConfig  `yaml:"outcomes"`
	Delivery  policy.Config   `yaml:"delivery"` // Delivery safety policy
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"` // Prometheus metrics configuration
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"` // Default: :8080
	APIKey     string `yaml:"api_key"`     // Bearer key; empty disables auth
}

// StorageConfig contains campaign storage settings
type StorageConfig struct {
	Path string `yaml:"path"` // Default: ./data/campaigner.db
}

// DirectoryConfig selects the recipient directory backend
type DirectoryConfig struct {
	Driver string `yaml:"driver"` // postgres or memory
	DSN    string `yaml:"dsn"`    // Postgres connection string; $VARS expanded
}

// TransportConfig contains WhatsApp gateway settings
type TransportConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"` // $VARS expanded
	Timeout time.Duration `yaml:"timeout"` // Default: 30s
}

// OutcomesConfig contains delivery outcome publishing settings
type OutcomesConfig struct {
	Driver string `yaml:"driver"` // amqp or log
	URL    string `yaml:"url"`    // AMQP broker URL; $VARS expanded
	Queue  string `yaml:"queue"`  // Default: campaign.outcomes
}

// DispatchConfig contains dispatcher tuning
type DispatchConfig struct {
	Workers             int           `yaml:"workers"`               // Default: 4
	MaxAttempts         int           `yaml:"max_attempts"`          // Default: 3
	RetryDelay          time.Duration `yaml:"retry_delay"`           // Default: 5s
	SendTimeout         time.Duration `yaml:"send_timeout"`          // Default: 30s
	FailureWindow       int           `yaml:"failure_window"`        // Default: 20 attempts
	AutoPauseMinSamples int           `yaml:"auto_pause_min_samples"` // Default: 5
	SchedulerInterval   time.Duration `yaml:"scheduler_interval"`    // Default: 15s
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// Load reads, expands and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The delivery policy is seeded with its defaults before parsing so
	// explicit false/zero values in the file still win.
	cfg := &Config{Delivery: policy.Default()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/campaigner.db"
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = "postgres"
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 30 * time.Second
	}
	if c.Outcomes.Driver == "" {
		c.Outcomes.Driver = "log"
	}
	if c.Outcomes.Queue == "" {
		c.Outcomes.Queue = "campaign.outcomes"
	}

	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = 5 * time.Second
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.FailureWindow == 0 {
		c.Dispatch.FailureWindow = 20
	}
	if c.Dispatch.AutoPauseMinSamples == 0 {
		c.Dispatch.AutoPauseMinSamples = 5
	}
	if c.Dispatch.SchedulerInterval == 0 {
		c.Dispatch.SchedulerInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// expandEnv substitutes $VAR references in secret-bearing fields so
// credentials can stay out of the config file.
func (c *Config) expandEnv() {
	c.Server.APIKey = os.ExpandEnv(c.Server.APIKey)
	c.Directory.DSN = os.ExpandEnv(c.Directory.DSN)
	c.Transport.APIKey = os.ExpandEnv(c.Transport.APIKey)
	c.Outcomes.URL = os.ExpandEnv(c.Outcomes.URL)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Directory.Driver {
	case "postgres":
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown directory driver: %s", c.Directory.Driver)
	}

	if c.Transport.BaseURL == "" {
		return fmt.Errorf("transport.base_url is required")
	}

	switch c.Outcomes.Driver {
	case "amqp":
		if c.Outcomes.URL == "" {
			return fmt.Errorf("outcomes.url is required for the amqp driver")
		}
	case "log":
	default:
		return fmt.Errorf("unknown outcomes driver: %s", c.Outcomes.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery policy: %w", err)
	}

	return nil
}
