// Package config holds the YAML configuration of the nibbled device.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/nibbled/config"
)

// Config represents the complete device configuration.
type Config struct {
	// Device configures the ingestion pipeline and reader admission.
	Device DeviceConfig `yaml:"device"`

	// Memory bounds the backing store.
	Memory MemoryConfig `yaml:"memory"`

	// Backpressure configures memory pressure levels.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Source selects where nibbles come from.
	Source SourceConfig `yaml:"source"`

	// Export configures where the daemon writes drained sessions.
	Export ExportConfig `yaml:"export"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig configures the ingestion pipeline and reader admission.
type DeviceConfig struct {
	// PageSize is the backing-store page size in bytes.
	PageSize int `yaml:"page_size"`

	// QueueCapacity is the transfer queue capacity in bytes.
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxSessions is the number of finalized sessions held before closes are
	// rejected.
	MaxSessions int `yaml:"max_sessions"`

	// MaxReaders is the initial concurrent-open limit.
	MaxReaders int `yaml:"max_readers"`

	// Sentinel is the byte value that ends a session.
	Sentinel byte `yaml:"sentinel"`
}

// MemoryConfig bounds the backing store.
type MemoryConfig struct {
	// MaxPages is the page budget. 0 = unlimited.
	MaxPages int `yaml:"max_pages"`
}

// BackpressureConfig configures memory pressure levels.
type BackpressureConfig struct {
	// Enabled enables pressure tracking. It only has an effect when the
	// page budget is bounded.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines page-budget usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Hysteresis to prevent flapping (0.0-1.0).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level evaluations.
	Cooldown time.Duration `yaml:"cooldown"`
}

// BackpressureThresholds defines usage thresholds.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// SourceConfig selects where nibbles come from.
type SourceConfig struct {
	// Kind is one of: file, stdin, random.
	Kind string `yaml:"kind"`

	// Path is the input file for kind "file".
	Path string `yaml:"path"`

	// TriggerInterval paces nibble delivery. 0 = as fast as possible.
	TriggerInterval time.Duration `yaml:"trigger_interval"`

	// RandomSeed seeds the random source.
	RandomSeed int64 `yaml:"random_seed"`

	// RandomMaxRun is the longest session the random source emits.
	RandomMaxRun int `yaml:"random_max_run"`

	// RandomSessions stops the random source after this many sessions.
	// 0 = never stop.
	RandomSessions int `yaml:"random_sessions"`
}

// ExportConfig configures where the daemon writes drained sessions.
type ExportConfig struct {
	// WirePath receives length-delimited protobuf frames, one per session.
	// "-" writes to stdout. Empty disables.
	WirePath string `yaml:"wire_path"`

	// ParquetPath receives one row per session. Empty disables.
	ParquetPath string `yaml:"parquet_path"`

	// Compression is the parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// PollInterval is how often the drain loop retries an empty read.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of: text, json, auto. auto picks text on a terminal.
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			PageSize:      defaults.DefaultPageSize,
			QueueCapacity: defaults.DefaultQueueCapacity,
			MaxSessions:   defaults.DefaultMaxSessions,
			MaxReaders:    defaults.DefaultMaxReaders,
			Sentinel:      defaults.DefaultSentinel,
		},
		Memory: MemoryConfig{
			MaxPages: defaults.DefaultMaxPages,
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   0.50,
				Critical:  0.80,
				Emergency: 0.95,
			},
			Hysteresis: 0.10,
			Cooldown:   time.Second,
		},
		Source: SourceConfig{
			Kind:            "stdin",
			TriggerInterval: defaults.DefaultTriggerInterval,
			RandomMaxRun:    defaults.DefaultRandomMaxRun,
		},
		Export: ExportConfig{
			WirePath:     "-",
			Compression:  "zstd",
			PollInterval: defaults.DefaultDrainPollInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
