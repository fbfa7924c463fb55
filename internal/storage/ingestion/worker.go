package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/storage/backpressure"
	"github.com/xtxerr/nibbled/internal/storage/buffer"
	"github.com/xtxerr/nibbled/internal/storage/pages"
	"github.com/xtxerr/nibbled/internal/storage/session"
)

// Config wires a worker to the shared device state.
type Config struct {
	// Lock guards Store and the tracker cursors. The reader holds the same
	// lock while it consumes.
	Lock sync.Locker

	Queue    *buffer.Ring[buffer.SessionByte]
	Store    *pages.Store
	Tracker  *session.Tracker
	Sentinel byte

	// Pressure is optional.
	Pressure *backpressure.Controller

	Logger *slog.Logger
}

// Worker drains the byte queue into the paged store.
// Scheduling is idempotent: any number of Schedule calls before the worker
// wakes collapse into one drain pass.
type Worker struct {
	mu       sync.Locker
	queue    *buffer.Ring[buffer.SessionByte]
	store    *pages.Store
	tracker  *session.Tracker
	pressure *backpressure.Controller
	asm      *Assembler
	log      *slog.Logger

	// State
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	kick    chan struct{}

	// Last counters seen, for delta logging. Touched only inside DrainOnce
	// under drainMu.
	drainMu      sync.Mutex
	seenDropped  int64
	seenRejected int64

	// Statistics
	stats Stats
}

// Stats holds worker statistics.
type Stats struct {
	Passes         atomic.Int64
	BytesStored    atomic.Int64
	BytesAbandoned atomic.Int64
	AllocFailures  atomic.Int64
}

// NewWorker creates a worker and the assembler that feeds it.
func NewWorker(cfg Config) *Worker {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	w := &Worker{
		mu:       cfg.Lock,
		queue:    cfg.Queue,
		store:    cfg.Store,
		tracker:  cfg.Tracker,
		pressure: cfg.Pressure,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
	if w.mu == nil {
		w.mu = &sync.Mutex{}
	}
	w.asm = NewAssembler(cfg.Queue, cfg.Tracker, cfg.Sentinel, w.Schedule)

	if w.pressure != nil {
		w.pressure.SetOnLevelChange(func(old, new backpressure.Level) {
			w.log.Warn("memory pressure changed",
				"from", old.String(),
				"to", new.String())
		})
	}

	return w
}

// Assembler returns the producer-side entry point.
func (w *Worker) Assembler() *Assembler {
	return w.asm
}

// Start starts the drain goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("start ingest worker: %w", errors.ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Debug("ingest worker started")
	return nil
}

// Stop stops the drain goroutine and runs one final pass so that nothing
// accepted by the queue is left behind.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}

	w.cancel()
	w.wg.Wait()

	w.DrainOnce()
	w.log.Debug("ingest worker stopped")
}

// IsRunning returns whether the drain goroutine is running.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			w.DrainOnce()
		}
	}
}

// Schedule requests a drain pass. It never blocks.
func (w *Worker) Schedule() {
	select {
	case w.kick <- struct{}{}:
	default:
		// Pass already pending
	}
}

// DrainOnce moves every queued byte into the store and returns how many
// were stored. A failed page allocation abandons the rest of the pass; each
// abandoned byte is charged to its session so the reader never mistakes
// later bytes for it.
func (w *Worker) DrainOnce() int {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	var allocErr error

	w.mu.Lock()
	stored, abandoned := w.queue.Drain(func(sb buffer.SessionByte) bool {
		if w.tracker.WriteOffset() == 0 {
			if err := w.store.AppendPage(); err != nil {
				allocErr = err
				return false
			}
		}
		if err := w.store.WriteAt(w.tracker.WriteOffset(), sb.Value); err != nil {
			allocErr = err
			return false
		}
		w.tracker.AdvanceWrite()
		return true
	}, func(sb buffer.SessionByte) {
		w.tracker.Abandon(sb.Seq)
	})
	numPages := w.store.NumPages()
	w.mu.Unlock()

	w.stats.Passes.Add(1)
	w.stats.BytesStored.Add(int64(stored))

	if allocErr != nil {
		w.stats.AllocFailures.Add(1)
		w.stats.BytesAbandoned.Add(int64(abandoned))
		w.log.Warn("drain pass abandoned",
			"error", allocErr,
			"abandoned", abandoned,
			"num_pages", numPages)
	}

	w.reportProducerLoss()

	if w.pressure != nil {
		w.pressure.Check()
	}

	return stored
}

// reportProducerLoss logs what the producer dropped since the last pass.
// The producer itself must not log.
func (w *Worker) reportProducerLoss() {
	s := w.asm.Stats()

	if d := s.Dropped - w.seenDropped; d > 0 {
		w.log.Warn("transfer queue overflow", "dropped", d, "total_dropped", s.Dropped)
	}
	if r := s.Rejected - w.seenRejected; r > 0 {
		w.log.Warn("session table full, close refused",
			"rejected", r,
			"capacity", w.tracker.Capacity())
	}

	w.seenDropped = s.Dropped
	w.seenRejected = s.Rejected
}

// Stats returns current statistics.
func (w *Worker) Stats() WorkerStats {
	queueStats := w.queue.Stats()

	level := backpressure.LevelNormal
	if w.pressure != nil {
		level = w.pressure.CurrentLevel()
	}

	return WorkerStats{
		Running:        w.running.Load(),
		Passes:         w.stats.Passes.Load(),
		BytesStored:    w.stats.BytesStored.Load(),
		BytesAbandoned: w.stats.BytesAbandoned.Load(),
		AllocFailures:  w.stats.AllocFailures.Load(),
		QueueCount:     queueStats.Count,
		QueueUsage:     queueStats.UsageRatio,
		Pressure:       level,
		Assembler:      w.asm.Stats(),
	}
}

// WorkerStats holds combined ingest statistics.
type WorkerStats struct {
	Running        bool
	Passes         int64
	BytesStored    int64
	BytesAbandoned int64
	AllocFailures  int64
	QueueCount     int
	QueueUsage     float64
	Pressure       backpressure.Level
	Assembler      AssemblerStats
}
