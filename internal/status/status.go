// Package status renders read-only snapshots of the device.
package status

import (
	"fmt"
	"strings"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Snapshot is a point-in-time view of the device. Building one never
// changes device state.
type Snapshot struct {
	// Admission
	OpenCount  int
	MaxAllowed int

	// Backing store
	ResidentPages int
	ResidentBytes int
	PageSize      int

	// Page lifetime
	PagesAllocated int64
	PagesFreed     int64
	BytesEvicted   int64

	// Memory pressure. Pressure is "disabled" when tracking is off.
	Pressure        string
	PressureUsage   float64
	PressureChanges int64
	WarningCount    int64
	CriticalCount   int64
	EmergencyCount  int64

	// Sessions
	SessionsPending  int
	SessionCapacity  int
	OpenSessionSize  int
	SessionsClosed   int64
	SessionsRejected int64

	// Ingest
	Nibbles        int64
	BytesAssembled int64
	BytesDropped   int64
	BytesAbandoned int64
	AllocFailures  int64

	// Read side
	SessionsDelivered int64
	BytesDelivered    int64
	BytesDiscarded    int64

	Sizes SizeSummary
}

// String renders the report served by the status file.
func (s Snapshot) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "nprocs %d, max_nprocs %d\n", s.OpenCount, s.MaxAllowed)
	fmt.Fprintf(&b, "num_pages %d, data_size %d\n", s.ResidentPages, s.ResidentBytes)
	fmt.Fprintf(&b, "page_size %d, pages_allocated %d, pages_freed %d, bytes_evicted %d\n",
		s.PageSize, s.PagesAllocated, s.PagesFreed, s.BytesEvicted)
	fmt.Fprintf(&b, "pressure %s, usage %.2f, changes %d, warning %d, critical %d, emergency %d\n",
		s.Pressure, s.PressureUsage, s.PressureChanges,
		s.WarningCount, s.CriticalCount, s.EmergencyCount)
	fmt.Fprintf(&b, "sessions_pending %d/%d, open_session %d\n",
		s.SessionsPending, s.SessionCapacity, s.OpenSessionSize)
	fmt.Fprintf(&b, "sessions_closed %d, sessions_rejected %d, sessions_delivered %d\n",
		s.SessionsClosed, s.SessionsRejected, s.SessionsDelivered)
	fmt.Fprintf(&b, "nibbles %d, bytes %d, dropped %d, abandoned %d, alloc_failures %d\n",
		s.Nibbles, s.BytesAssembled, s.BytesDropped, s.BytesAbandoned, s.AllocFailures)
	fmt.Fprintf(&b, "bytes_delivered %d, bytes_discarded %d\n", s.BytesDelivered, s.BytesDiscarded)

	if s.Sizes.Count > 0 {
		fmt.Fprintf(&b, "session_size p50 %.0f, p90 %.0f, p99 %.0f, max %d\n",
			s.Sizes.P50, s.Sizes.P90, s.Sizes.P99, s.Sizes.Max)
	}

	return b.String()
}

// SizeSummary describes the sizes of delivered sessions.
type SizeSummary struct {
	Count int64
	Bytes int64
	Max   int
	P50   float64
	P90   float64
	P99   float64
}

// SizeStats tracks the distribution of session sizes with a DDSketch.
type SizeStats struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch

	count int64
	bytes int64
	max   int
}

// NewSizeStats creates a tracker with the given relative accuracy.
func NewSizeStats(accuracy float64) (*SizeStats, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, fmt.Errorf("create size sketch: %w", err)
	}
	return &SizeStats{sketch: sketch}, nil
}

// Record adds one session size.
func (s *SizeStats) Record(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Error only for values the sketch cannot index; sizes are never
	// negative.
	_ = s.sketch.Add(float64(size))

	s.count++
	s.bytes += int64(size)
	if size > s.max {
		s.max = size
	}
}

// Summary returns the current distribution.
func (s *SizeStats) Summary() SizeSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := SizeSummary{
		Count: s.count,
		Bytes: s.bytes,
		Max:   s.max,
	}
	if s.sketch.IsEmpty() {
		return sum
	}

	sum.P50, _ = s.sketch.GetValueAtQuantile(0.50)
	sum.P90, _ = s.sketch.GetValueAtQuantile(0.90)
	sum.P99, _ = s.sketch.GetValueAtQuantile(0.99)

	return sum
}
