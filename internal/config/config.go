// Package config provides configuration management for reencodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultTargetVMAF         = 95
	defaultTargetVMAFFloor    = 90
	defaultCRFMin             = 8
	defaultCRFMax             = 40
	defaultAnalyzerBatchSize  = 5
	defaultAnalyzerChunks     = 2
	defaultSizeLimitBytes     = 10 * 1024 * 1024 * 1024 // 10 GiB
	defaultProgressDebounce   = 500 * time.Millisecond
	defaultEncoderHeartbeat   = 10 * time.Second
	defaultProducerPollPeriod = 2 * time.Second
	defaultOrphanSweepCron    = "@every 15m"
)

// Config holds all configuration for the application.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds working-directory configuration for encoder artifacts.
type StorageConfig struct {
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PipelineConfig holds the encoding pipeline core's tunables.
type PipelineConfig struct {
	ABAV1Path     string `mapstructure:"abav1_path"`     // path to the ab-av1 binary (empty = look up PATH)
	MediainfoPath string `mapstructure:"mediainfo_path"` // path to the mediainfo binary (empty = look up PATH)

	// DefaultTargetVMAF is the perceptual-quality target a CRF search aims
	// for (§4.6). TargetVMAFFloor is the lowest target the retry cascade
	// will decrement down to before giving up.
	DefaultTargetVMAF int `mapstructure:"default_target_vmaf"`
	TargetVMAFFloor   int `mapstructure:"target_vmaf_floor"`

	// CRFMin/CRFMax bound the standard crf-search range (§4.6); a search
	// narrower than this range is eligible for the full-range retry.
	CRFMin int `mapstructure:"crf_min"`
	CRFMax int `mapstructure:"crf_max"`

	// AnalyzerBatchSize is N in "a batch of up to N Videos" (§4.5).
	// AnalyzerChunkConcurrency bounds concurrent mediainfo invocations
	// across chunks of that batch (§5).
	AnalyzerBatchSize        int `mapstructure:"analyzer_batch_size"`
	AnalyzerChunkConcurrency int `mapstructure:"analyzer_chunk_concurrency"`

	// SizeLimit is loaded and defaulted to 10 GiB but not read by any stage;
	// the CRF searcher rejects candidates against its own fixed 10 GiB
	// ceiling (§4.6).
	SizeLimit ByteSize `mapstructure:"size_limit"`

	// ProgressDebounce is loaded but not read by any stage; the encoder
	// debounces progress broadcasts with a fixed rule (at least 5 s apart or
	// a percent jump over 50, §5). EncoderHeartbeat is the periodic re-broadcast period
	// for the encoder's last known progress (§4.7).
	ProgressDebounce Duration `mapstructure:"progress_debounce"`
	EncoderHeartbeat Duration `mapstructure:"encoder_heartbeat"`

	// ProducerPollPeriod is the low-frequency polling fallback each
	// producer uses in case event delivery is lost (§4.8).
	ProducerPollPeriod Duration `mapstructure:"producer_poll_period"`

	// OrphanSweepCron is the robfig/cron `@every`-style descriptor for the
	// periodic (not just startup) orphan reap sweep (§4.9, §2.3).
	OrphanSweepCron string `mapstructure:"orphan_sweep_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REENCODARR_ and use underscores
// for nesting. Example: REENCODARR_DATABASE_DRIVER=postgres.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/reencodarr")
		v.AddConfigPath("$HOME/.reencodarr")
	}

	v.SetEnvPrefix("REENCODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reencodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.temp_dir", "./data/temp")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pipeline defaults
	v.SetDefault("pipeline.abav1_path", "")
	v.SetDefault("pipeline.mediainfo_path", "")
	v.SetDefault("pipeline.default_target_vmaf", defaultTargetVMAF)
	v.SetDefault("pipeline.target_vmaf_floor", defaultTargetVMAFFloor)
	v.SetDefault("pipeline.crf_min", defaultCRFMin)
	v.SetDefault("pipeline.crf_max", defaultCRFMax)
	v.SetDefault("pipeline.analyzer_batch_size", defaultAnalyzerBatchSize)
	v.SetDefault("pipeline.analyzer_chunk_concurrency", defaultAnalyzerChunks)
	v.SetDefault("pipeline.size_limit", defaultSizeLimitBytes)
	v.SetDefault("pipeline.progress_debounce", defaultProgressDebounce)
	v.SetDefault("pipeline.encoder_heartbeat", defaultEncoderHeartbeat)
	v.SetDefault("pipeline.producer_poll_period", defaultProducerPollPeriod)
	v.SetDefault("pipeline.orphan_sweep_cron", defaultOrphanSweepCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.TempDir == "" {
		return fmt.Errorf("storage.temp_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Pipeline.AnalyzerBatchSize < 1 {
		return fmt.Errorf("pipeline.analyzer_batch_size must be at least 1")
	}
	if c.Pipeline.AnalyzerChunkConcurrency < 1 {
		return fmt.Errorf("pipeline.analyzer_chunk_concurrency must be at least 1")
	}
	if c.Pipeline.CRFMin < 0 || c.Pipeline.CRFMax <= c.Pipeline.CRFMin {
		return fmt.Errorf("pipeline.crf_min must be non-negative and less than crf_max")
	}
	if c.Pipeline.TargetVMAFFloor > c.Pipeline.DefaultTargetVMAF {
		return fmt.Errorf("pipeline.target_vmaf_floor must not exceed default_target_vmaf")
	}

	return nil
}

// TempPath returns the directory encoder/crf-search processes write
// temporary artifacts to.
func (c *StorageConfig) TempPath() string {
	return c.TempDir
}
