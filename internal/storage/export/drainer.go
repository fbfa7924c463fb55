package export

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xtxerr/nibbled/internal/device"
	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/wire"
)

// Session is one fully drained session.
type Session struct {
	Seq    int64
	ReadAt time.Time
	Data   []byte
}

// Row converts s to its Parquet row.
func (s Session) Row() SessionRow {
	return SessionRow{
		Seq:      s.Seq,
		Size:     int64(len(s.Data)),
		ReadAtMs: s.ReadAt.UnixMilli(),
		Data:     s.Data,
	}
}

// Sink receives drained sessions.
type Sink interface {
	WriteSession(s Session) error
}

// WireSink adapts a wire.Writer to Sink.
type WireSink struct {
	W *wire.Writer
}

// WriteSession implements Sink.
func (s WireSink) WriteSession(sess Session) error {
	return s.W.Write(sess.Data)
}

// Flusher is implemented by sinks that buffer output.
type Flusher interface {
	Flush() error
}

// readChunk bounds one copy from the device into the session buffer.
const readChunk = 64 * 1024

// Drainer reads sessions off a device one handle at a time.
type Drainer struct {
	dev   *device.Device
	sinks []Sink
	poll  time.Duration

	// Handle of a session whose bytes are still arriving.
	h   *device.Handle
	buf bytes.Buffer
	seq atomic.Int64
}

// NewDrainer creates a drainer writing to sinks. poll is how long Run
// sleeps after finding nothing to read.
func NewDrainer(dev *device.Device, poll time.Duration, sinks ...Sink) *Drainer {
	return &Drainer{
		dev:   dev,
		sinks: sinks,
		poll:  poll,
	}
}

// Run drains until ctx is cancelled. A busy device is retried on the next
// poll; sink errors end the run.
func (d *Drainer) Run(ctx context.Context) error {
	defer d.Close()

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		if _, err := d.DrainAvailable(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainAvailable exports every session that can be completed now and
// flushes the sinks if any was exported.
func (d *Drainer) DrainAvailable() (int, error) {
	n := 0
	for {
		ok, err := d.DrainOnce()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}

	if n == 0 {
		return 0, nil
	}
	return n, d.Flush()
}

// Flush flushes every sink that buffers output.
func (d *Drainer) Flush() error {
	for _, sink := range d.sinks {
		f, ok := sink.(Flusher)
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}
	}
	return nil
}

// DrainOnce exports at most one session and reports whether it did. A
// session whose bytes are still arriving keeps its handle until a later
// call completes it.
func (d *Drainer) DrainOnce() (bool, error) {
	if d.h == nil {
		h, err := d.dev.Open(device.ReadOnly)
		if errors.Is(err, errors.ErrBusy) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("drain: %w", err)
		}
		d.h = h
		d.buf.Reset()
	}

	for !d.h.Exhausted() {
		n, err := d.h.ReadTo(&d.buf, readChunk)
		if err != nil {
			d.Close()
			return false, fmt.Errorf("drain: %w", err)
		}
		if n == 0 && !d.h.Exhausted() {
			if _, _, started := d.h.Session(); !started {
				// Nothing pending; free the slot for other readers.
				d.Close()
			}
			return false, nil
		}
	}
	handleID := d.h.ID()
	d.Close()

	sess := Session{
		Seq:    d.seq.Add(1),
		ReadAt: time.Now(),
		Data:   bytes.Clone(d.buf.Bytes()),
	}

	ctx := logging.ContextWithSession(
		logging.ContextWithHandleID(context.Background(), handleID), uint64(sess.Seq))
	log := logging.WithContext(ctx).With("component", "export")

	for _, sink := range d.sinks {
		if err := sink.WriteSession(sess); err != nil {
			log.Error("sink failed", "error", err)
			return false, fmt.Errorf("export session %d: %w", sess.Seq, err)
		}
	}

	log.Debug("session exported", "size", len(sess.Data))
	return true, nil
}

// Close releases the drainer's handle, if any.
func (d *Drainer) Close() {
	if d.h == nil {
		return
	}
	if err := d.h.Close(); err != nil {
		logging.Component("export").Warn("close handle", "handle", d.h.ID(), "error", err)
	}
	d.h = nil
}

// Exported returns the number of sessions exported.
func (d *Drainer) Exported() int64 {
	return d.seq.Load()
}
