package config

import (
	"time"
)

// Config represents the complete application configuration.
// Defaults come from the command layer, user overrides from the config
// file, and environment variables override both.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig contains provider API credentials and endpoints.
type APIConfig struct {
	Key      string `mapstructure:"key"`
	BaseURL  string `mapstructure:"base_url"`
	Revision string `mapstructure:"revision"`
}

// ExtractionConfig controls the extraction engine: rate tier, retry
// policy, caching, and run shape.
type ExtractionConfig struct {
	// Tier selects the provider rate tier by name (small, medium,
	// large, xl) unless a tier file overrides the built-in table.
	Tier     string `mapstructure:"tier"`
	TierFile string `mapstructure:"tier_file"`

	// Margin scales the advertised tier limits down before use.
	Margin float64 `mapstructure:"margin"`

	CacheCapacity    int           `mapstructure:"cache_capacity"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	RetryAfterMax    time.Duration `mapstructure:"retry_after_max"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"`
	Workers          int           `mapstructure:"workers"`

	// ConversionMetric is the provider metric name resolved once per
	// run for revenue-scoped sections.
	ConversionMetric string `mapstructure:"conversion_metric"`

	// LookbackDays sizes the derived timeframe when no explicit range
	// is given.
	LookbackDays int `mapstructure:"lookback_days"`
}

// ServerConfig contains HTTP server configuration for serve mode.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}
