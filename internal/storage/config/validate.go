package config

import (
	"errors"
	"fmt"

	nerrors "github.com/xtxerr/nibbled/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Device.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}

	if err := c.Memory.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}

	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if err := c.Source.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the device configuration.
func (c *DeviceConfig) Validate() error {
	v := nerrors.NewValidationErrors()

	if c.PageSize <= 0 {
		v.AddField("page_size", "must be positive")
	}
	if c.QueueCapacity <= 0 {
		v.AddField("queue_capacity", "must be positive")
	}
	if c.MaxSessions <= 0 {
		v.AddField("max_sessions", "must be positive")
	}
	if c.MaxReaders < 0 {
		v.AddField("max_readers", "must not be negative")
	}

	return v.Err()
}

// Validate checks the memory configuration.
func (c *MemoryConfig) Validate() error {
	if c.MaxPages < 0 {
		return nerrors.NewValidation("max_pages", "must not be negative")
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	v := nerrors.NewValidationErrors()
	t := c.Thresholds

	for name, val := range map[string]float64{
		"thresholds.warning":   t.Warning,
		"thresholds.critical":  t.Critical,
		"thresholds.emergency": t.Emergency,
	} {
		if val <= 0 || val > 1 {
			v.AddField(name, "must be between 0 and 1")
		}
	}

	if t.Warning >= t.Critical || t.Critical >= t.Emergency {
		v.AddField("thresholds", "must satisfy warning < critical < emergency")
	}

	if c.Hysteresis < 0 || c.Hysteresis >= 1 {
		v.AddField("hysteresis", "must be between 0 and 1")
	}

	if c.Cooldown < 0 {
		v.AddField("cooldown", "must not be negative")
	}

	return v.Err()
}

// Validate checks the source configuration.
func (c *SourceConfig) Validate() error {
	v := nerrors.NewValidationErrors()

	switch c.Kind {
	case "file":
		if c.Path == "" {
			v.AddMissing("path")
		}
	case "stdin", "":
	case "random":
		if c.RandomMaxRun <= 0 {
			v.AddField("random_max_run", "must be positive")
		}
		if c.RandomSessions < 0 {
			v.AddField("random_sessions", "must not be negative")
		}
	default:
		v.AddField("kind", "must be one of: file, stdin, random")
	}

	if c.TriggerInterval < 0 {
		v.AddField("trigger_interval", "must not be negative")
	}

	return v.Err()
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	v := nerrors.NewValidationErrors()

	validCompression := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true,
	}
	if !validCompression[c.Compression] {
		v.AddField("compression", "must be one of: snappy, zstd, lz4, gzip, none")
	}

	if c.PollInterval <= 0 {
		v.AddField("poll_interval", "must be positive")
	}

	return v.Err()
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	v := nerrors.NewValidationErrors()

	switch c.Level {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		v.AddField("level", "must be one of: debug, info, warn, error")
	}

	switch c.Format {
	case "text", "json", "auto", "":
	default:
		v.AddField("format", "must be one of: text, json, auto")
	}

	return v.Err()
}
