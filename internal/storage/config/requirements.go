package config

import (
	"fmt"
)

// Requirements represents calculated memory requirements.
type Requirements struct {
	// Fixed allocations made at start
	QueueBytes        int64
	SessionTableBytes int64

	// Backing store
	PageBytes     int64
	MaxStoreBytes int64 // 0 = unbounded
	Unbounded     bool
}

// bytesPerSessionSlot is the in-memory size of one finalized session entry.
const bytesPerSessionSlot = 8

// CalculateRequirements computes memory requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{
		QueueBytes:        int64(c.Device.QueueCapacity),
		SessionTableBytes: int64(c.Device.MaxSessions) * bytesPerSessionSlot,
		PageBytes:         int64(c.Device.PageSize),
	}

	if c.Memory.MaxPages == 0 {
		r.Unbounded = true
	} else {
		r.MaxStoreBytes = int64(c.Memory.MaxPages) * int64(c.Device.PageSize)
	}

	return r
}

// String returns a human-readable summary.
func (r Requirements) String() string {
	store := "unbounded"
	if !r.Unbounded {
		store = FormatBytes(r.MaxStoreBytes)
	}
	return fmt.Sprintf("queue=%s sessions=%s page=%s store=%s",
		FormatBytes(r.QueueBytes),
		FormatBytes(r.SessionTableBytes),
		FormatBytes(r.PageBytes),
		store)
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
