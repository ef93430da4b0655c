// Package config loads engine configuration via viper, following the
// teacher's Config/defaultConfig/Validate shape.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ChunkerConfig controls content-defined chunking boundaries.
type ChunkerConfig struct {
	AvgBlockSize int `mapstructure:"avg_block_size"`
}

// CompressionConfig controls block compression and dictionary
// training.
type CompressionConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Level        int    `mapstructure:"level"`
	DictPath     string `mapstructure:"dict_path"`
	RegenDict    bool   `mapstructure:"regen_dict"`
	SampleCap    int    `mapstructure:"sample_cap"`
}

// BundlerConfig controls bundle packing.
type BundlerConfig struct {
	Cardinality int `mapstructure:"cardinality"`
}

// FetchConfig holds remote fetch settings. MaxConnections is loaded
// and validated but does not set the fetch runner's concurrency, which
// is the fixed fetch.MaxConnections cap (15).
type FetchConfig struct {
	MaxConnections int `mapstructure:"max_connections"`
}

// S3Config optionally configures an S3 remote source.
type S3Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
}

// TelemetryConfig optionally configures NATS apply-event publishing.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	MetricsPort int           `mapstructure:"metrics_port"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// TracingConfig controls optional OTLP HTTP tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Config is the top-level engine configuration.
type Config struct {
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Compression   CompressionConfig   `mapstructure:"compression"`
	Bundler       BundlerConfig       `mapstructure:"bundler"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	S3            S3Config            `mapstructure:"s3"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	IgnoreGlobs   []string            `mapstructure:"ignore_globs"`
}

// defaultConfig returns the engine's built-in defaults, matching
// spec.md's parameter defaults (block avg 65536, bundle cardinality
// 60, 15-connection fetch cap, 2000-sample dictionary cap).
func defaultConfig() *Config {
	return &Config{
		Chunker:     ChunkerConfig{AvgBlockSize: 65536},
		Compression: CompressionConfig{Enabled: false, Level: 6, SampleCap: 2000},
		Bundler:     BundlerConfig{Cardinality: 60},
		Fetch:       FetchConfig{MaxConnections: 15},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsPort: 9090,
		},
		IgnoreGlobs: []string{"**/.DS_Store"},
	}
}

// Load reads configuration from path (if non-empty) and the
// environment, overlaying onto defaultConfig().
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := defaultConfig()

	v.SetDefault("chunker.avg_block_size", cfg.Chunker.AvgBlockSize)
	v.SetDefault("compression.enabled", cfg.Compression.Enabled)
	v.SetDefault("compression.level", cfg.Compression.Level)
	v.SetDefault("compression.sample_cap", cfg.Compression.SampleCap)
	v.SetDefault("bundler.cardinality", cfg.Bundler.Cardinality)
	v.SetDefault("fetch.max_connections", cfg.Fetch.MaxConnections)
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.metrics_port", cfg.Observability.MetricsPort)
	v.SetDefault("ignore_globs", cfg.IgnoreGlobs)

	v.SetEnvPrefix("PATCHCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration values the engine cannot act on.
func Validate(cfg *Config) error {
	if cfg.Chunker.AvgBlockSize <= 0 {
		return fmt.Errorf("config: chunker.avg_block_size must be positive")
	}
	if cfg.Bundler.Cardinality <= 0 {
		return fmt.Errorf("config: bundler.cardinality must be positive")
	}
	if cfg.Compression.Level < 1 || cfg.Compression.Level > 12 {
		return fmt.Errorf("config: compression.level must be in [1,12]")
	}
	if cfg.Fetch.MaxConnections <= 0 {
		return fmt.Errorf("config: fetch.max_connections must be positive")
	}
	if cfg.S3.Enabled && cfg.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when s3.enabled is true")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.URL == "" {
		return fmt.Errorf("config: telemetry.url is required when telemetry.enabled is true")
	}
	return nil
}
