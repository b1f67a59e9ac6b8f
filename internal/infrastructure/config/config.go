package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable that points at a config file.
const FileEnv = "RTAPI_CONFIG_FILE"

// Config holds all runtime configuration.
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	Status    StatusConfig    `yaml:"status" toml:"status"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Latency   LatencyConfig   `yaml:"latency" toml:"latency"`
	Watchdog  WatchdogConfig  `yaml:"watchdog" toml:"watchdog"`
}

// RuntimeConfig selects the scheduling flavor and shared memory backend.
type RuntimeConfig struct {
	Flavor     string `envconfig:"RTAPI_FLAVOR" yaml:"flavor" toml:"flavor"`
	Shm        string `envconfig:"RTAPI_SHM" yaml:"shm" toml:"shm"`
	ShmDir     string `envconfig:"RTAPI_SHM_DIR" yaml:"shm_dir" toml:"shm_dir"`
	LockMemory bool   `envconfig:"RTAPI_LOCK_MEMORY" yaml:"lock_memory" toml:"lock_memory"`
	RTCPU      int    `envconfig:"RTAPI_RT_CPU" yaml:"rt_cpu" toml:"rt_cpu"`
	MaxErrors  int    `envconfig:"RTAPI_MAX_ERRORS" yaml:"max_errors" toml:"max_errors"`
	MsgLevel   string `envconfig:"RTAPI_MSG_LEVEL" yaml:"msg_level" toml:"msg_level"`
	IRQSource  string `envconfig:"RTAPI_IRQ_SOURCE" yaml:"irq_source" toml:"irq_source"`
	UIOPattern string `envconfig:"RTAPI_UIO_PATTERN" yaml:"uio_pattern" toml:"uio_pattern"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"RTAPI_LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"RTAPI_LOG_DEV" yaml:"development" toml:"development"`
}

// StatusConfig holds the status HTTP server configuration.
type StatusConfig struct {
	Enabled bool   `envconfig:"RTAPI_STATUS_ENABLED" yaml:"enabled" toml:"enabled"`
	Addr    string `envconfig:"RTAPI_STATUS_ADDR" yaml:"addr" toml:"addr"`
}

// RateLimitConfig holds rate limiting configuration for the status server.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RTAPI_RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RTAPI_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RTAPI_RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	// SnapshotRPS caps status requests per second across all clients. 0
	// disables the cap.
	SnapshotRPS int `envconfig:"RTAPI_RATE_LIMIT_SNAPSHOT_RPS" yaml:"snapshot_rps" toml:"snapshot_rps"`
}

// LatencyConfig configures the latency probe.
type LatencyConfig struct {
	Period  int64 `envconfig:"RTAPI_LATENCY_PERIOD" yaml:"period_ns" toml:"period_ns"`
	Key     int   `envconfig:"RTAPI_LATENCY_KEY" yaml:"key" toml:"key"`
	Samples int   `envconfig:"RTAPI_LATENCY_SAMPLES" yaml:"samples" toml:"samples"`
}

// WatchdogConfig configures the deadline watchdog.
type WatchdogConfig struct {
	Enabled   bool  `envconfig:"RTAPI_WATCHDOG_ENABLED" yaml:"enabled" toml:"enabled"`
	Threshold int64 `envconfig:"RTAPI_WATCHDOG_THRESHOLD" yaml:"threshold" toml:"threshold"`
}

// Load builds the configuration from defaults, then the file named by
// RTAPI_CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Overlay decodes a YAML or TOML file over cfg. Keys absent from the file
// keep their current values.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config file %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Flavor:     "posix",
			Shm:        "posix",
			ShmDir:     "/dev/shm",
			LockMemory: false,
			RTCPU:      -1,
			MaxErrors:  10,
			MsgLevel:   "info",
			IRQSource:  "soft",
			UIOPattern: "/dev/uio%d",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Status: StatusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9177",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
			SnapshotRPS:       50,
		},
		Latency: LatencyConfig{
			Period:  1_000_000,
			Key:     0x4C415450,
			Samples: 4096,
		},
		Watchdog: WatchdogConfig{
			Enabled:   false,
			Threshold: 3,
		},
	}
}
