// Package config provides configuration defaults and utilities
// for the nibbled application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Device Defaults
// =============================================================================

const (
	// DefaultPageSize is the size of one backing-store page in bytes.
	// Override via config: device.page_size
	DefaultPageSize = 4096

	// DefaultQueueCapacity is the capacity of the transfer queue between the
	// nibble producer and the ingest worker. Bytes arriving while the queue is
	// full are dropped.
	// Override via config: device.queue_capacity
	DefaultQueueCapacity = 64

	// DefaultMaxSessions is the number of finalized-but-unread sessions the
	// device can hold. Session closes beyond this are rejected.
	// Override via config: device.max_sessions
	DefaultMaxSessions = 100

	// DefaultMaxReaders is the number of handles that may be open at once.
	// Override via config: device.max_readers
	DefaultMaxReaders = 1

	// DefaultSentinel is the byte value that terminates a session.
	// Override via config: device.sentinel
	DefaultSentinel byte = 0x00
)

// =============================================================================
// Memory Defaults
// =============================================================================

const (
	// DefaultMaxPages bounds the number of resident pages. Zero means the
	// store may grow until the allocator fails.
	// Override via config: memory.max_pages
	DefaultMaxPages = 0
)

// =============================================================================
// Source Defaults
// =============================================================================

const (
	// DefaultTriggerInterval paces nibble delivery from a source. Zero delivers
	// nibbles as fast as the source produces them.
	// Override via config: source.trigger_interval
	DefaultTriggerInterval time.Duration = 0

	// DefaultRandomMaxRun is the longest non-sentinel run produced by the
	// random source.
	// Override via config: source.random_max_run
	DefaultRandomMaxRun = 8192
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultDrainPollInterval is how often the daemon's drain loop retries a
	// read that returned nothing.
	// Override via config: export.poll_interval
	DefaultDrainPollInterval = 50 * time.Millisecond

	// DefaultMaxFrameSize bounds a single length-delimited session frame.
	DefaultMaxFrameSize = 16 * 1024 * 1024
)

// =============================================================================
// Status Defaults
// =============================================================================

const (
	// DefaultSizeSketchAccuracy is the relative accuracy of the session-size
	// percentiles shown in the status report.
	DefaultSizeSketchAccuracy = 0.01
)
