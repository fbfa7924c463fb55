// Package device is the nibbled device context: one instance owns the
// ingest pipeline, the paged store and reader admission.
//
// A Device is created once, started, fed nibbles through OnNibble by a
// single producer and read through Handles. Stop tears it down and frees
// every page.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	defaults "github.com/xtxerr/nibbled/config"
	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/reader"
	"github.com/xtxerr/nibbled/internal/status"
	"github.com/xtxerr/nibbled/internal/storage/backpressure"
	"github.com/xtxerr/nibbled/internal/storage/buffer"
	"github.com/xtxerr/nibbled/internal/storage/config"
	"github.com/xtxerr/nibbled/internal/storage/ingestion"
	"github.com/xtxerr/nibbled/internal/storage/pages"
	"github.com/xtxerr/nibbled/internal/storage/session"
)

// OpenMode is the access mode requested by Open.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	WriteOnly
	ReadWrite
)

// String returns the string representation of the mode.
func (m OpenMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Device is the device context.
type Device struct {
	// mu guards the store and the tracker cursors. The ingest worker holds
	// it for a whole drain pass, the reader for a whole read.
	mu sync.Mutex

	config *config.Config

	// Components
	alloc    *pages.PoolAllocator
	store    *pages.Store
	tracker  *session.Tracker
	worker   *ingestion.Worker
	asm      *ingestion.Assembler
	reader   *reader.Reader
	pressure *backpressure.Controller
	sizes    *status.SizeStats

	// Admission
	openCount  atomic.Int64
	maxReaders atomic.Int64
	nextHandle atomic.Uint64

	// State
	started atomic.Bool
	stopped atomic.Bool

	log *slog.Logger
}

// New creates a device from cfg. A nil cfg uses the defaults.
func New(cfg *config.Config) (*Device, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	sizes, err := status.NewSizeStats(defaults.DefaultSizeSketchAccuracy)
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	d := &Device{
		config: cfg,
		alloc:  pages.NewPoolAllocator(cfg.Device.PageSize, cfg.Memory.MaxPages),
		sizes:  sizes,
		log:    logging.Component("device"),
	}
	d.maxReaders.Store(int64(cfg.Device.MaxReaders))

	d.store = pages.New(cfg.Device.PageSize, d.alloc, logging.Component("pages"))
	d.tracker = session.New(cfg.Device.MaxSessions, cfg.Device.PageSize)

	bp := cfg.Backpressure
	bp.Enabled = bp.Enabled && cfg.Memory.MaxPages > 0
	d.pressure = backpressure.New(bp, backpressure.GaugeFunc(d.pageUsage))

	d.worker = ingestion.NewWorker(ingestion.Config{
		Lock:     &d.mu,
		Queue:    buffer.NewByteQueue(cfg.Device.QueueCapacity),
		Store:    d.store,
		Tracker:  d.tracker,
		Sentinel: cfg.Device.Sentinel,
		Pressure: d.pressure,
		Logger:   logging.Component("ingest"),
	})
	d.asm = d.worker.Assembler()

	d.reader = reader.New(reader.Config{
		Lock:    &d.mu,
		Store:   d.store,
		Tracker: d.tracker,
		Sizes:   sizes,
		Logger:  logging.Component("reader"),
	})

	d.log.Info("device created",
		"page_size", cfg.Device.PageSize,
		"queue_capacity", cfg.Device.QueueCapacity,
		"max_sessions", cfg.Device.MaxSessions,
		"max_readers", cfg.Device.MaxReaders,
		"requirements", cfg.CalculateRequirements().String())

	return d, nil
}

// pageUsage is the fraction of the page budget in use.
func (d *Device) pageUsage() float64 {
	if d.alloc.MaxPages() <= 0 {
		return 0
	}
	return float64(d.alloc.Live()) / float64(d.alloc.MaxPages())
}

// Start starts the ingest worker.
func (d *Device) Start(ctx context.Context) error {
	if d.stopped.Load() {
		return fmt.Errorf("start device: %w", errors.ErrNotRunning)
	}
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("start device: %w", errors.ErrAlreadyRunning)
	}

	if err := d.worker.Start(ctx); err != nil {
		d.started.Store(false)
		return fmt.Errorf("start device: %w", err)
	}

	d.log.Info("device started")
	return nil
}

// Stop stops the ingest worker and frees every page. The device cannot be
// restarted.
func (d *Device) Stop() error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	d.worker.Stop()

	d.mu.Lock()
	freed := d.store.NumPages()
	d.store.Reset()
	d.tracker.ResetOffsets()
	d.mu.Unlock()

	d.log.Info("device stopped", "pages_freed", freed)
	return nil
}

// OnNibble delivers one nibble from the producer. It never blocks. There
// must be at most one caller at a time.
func (d *Device) OnNibble(n byte) {
	if d.stopped.Load() {
		return
	}
	d.asm.OnNibble(n)
}

// Sentinel returns the byte value that terminates a session.
func (d *Device) Sentinel() byte {
	return d.config.Device.Sentinel
}

// Flush drains the transfer queue into the store on the calling goroutine.
func (d *Device) Flush() int {
	return d.worker.DrainOnce()
}

// Open admits a new reader. Only read-only access is allowed, and no more
// than the configured number of handles may be open at once.
func (d *Device) Open(mode OpenMode) (*Handle, error) {
	if d.stopped.Load() {
		return nil, fmt.Errorf("open: %w", errors.ErrNotRunning)
	}
	if mode != ReadOnly {
		return nil, fmt.Errorf("open %s: %w", mode, errors.ErrPermission)
	}

	for {
		n := d.openCount.Load()
		if n >= d.maxReaders.Load() {
			return nil, fmt.Errorf("open: %d of %d handles in use: %w",
				n, d.maxReaders.Load(), errors.ErrBusy)
		}
		if d.openCount.CompareAndSwap(n, n+1) {
			break
		}
	}

	h := &Handle{
		dev:    d,
		id:     d.nextHandle.Add(1),
		cursor: reader.NewCursor(),
	}
	d.log.Debug("handle opened", "handle", h.id, "open", d.openCount.Load())

	return h, nil
}

// SetMaxReaders changes the admission limit. Handles already open stay
// open even if they exceed the new limit.
func (d *Device) SetMaxReaders(n int) error {
	if n < 0 {
		return errors.NewInvalidArgument("max_readers", n, "must not be negative")
	}

	old := d.maxReaders.Swap(int64(n))
	d.log.Info("max readers changed", "from", old, "to", n)

	return nil
}

// MaxReaders returns the admission limit.
func (d *Device) MaxReaders() int {
	return int(d.maxReaders.Load())
}

// OpenCount returns the number of open handles.
func (d *Device) OpenCount() int {
	return int(d.openCount.Load())
}

// Status returns a snapshot of the device.
func (d *Device) Status() status.Snapshot {
	d.mu.Lock()
	numPages := d.store.NumPages()
	dataSize := d.store.DataSize()
	ps := d.store.Stats()
	ts := d.tracker.Stats()
	d.mu.Unlock()

	ws := d.worker.Stats()
	rs := d.reader.Stats()
	bs := d.pressure.Stats()

	pressure := bs.CurrentLevel.String()
	if !d.pressure.IsEnabled() {
		pressure = "disabled"
	}

	return status.Snapshot{
		OpenCount:         int(d.openCount.Load()),
		MaxAllowed:        int(d.maxReaders.Load()),
		ResidentPages:     numPages,
		ResidentBytes:     dataSize,
		PageSize:          d.store.PageSize(),
		PagesAllocated:    ps.PagesAllocated,
		PagesFreed:        ps.PagesFreed,
		BytesEvicted:      ps.BytesEvicted,
		Pressure:          pressure,
		PressureUsage:     bs.Usage,
		PressureChanges:   bs.LevelChanges,
		WarningCount:      bs.WarningCount,
		CriticalCount:     bs.CriticalCount,
		EmergencyCount:    bs.EmergencyCount,
		SessionsPending:   ts.Pending,
		SessionCapacity:   ts.Capacity,
		OpenSessionSize:   ts.OpenSize,
		SessionsClosed:    ts.Closed,
		SessionsRejected:  ts.Rejected,
		Nibbles:           ws.Assembler.Nibbles,
		BytesAssembled:    ws.Assembler.Bytes,
		BytesDropped:      ws.Assembler.Dropped,
		BytesAbandoned:    ws.BytesAbandoned,
		AllocFailures:     ws.AllocFailures,
		SessionsDelivered: rs.SessionsCompleted,
		BytesDelivered:    rs.BytesDelivered,
		BytesDiscarded:    rs.BytesDiscarded,
		Sizes:             d.sizes.Summary(),
	}
}
