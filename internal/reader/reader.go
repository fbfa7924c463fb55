// Package reader serves finalized sessions from the paged store.
//
// Reads never wait. A read with nothing pending returns 0 immediately; a
// read of a session whose bytes are still in flight returns what is resident
// and picks up the rest on a later call.
package reader

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/storage/pages"
	"github.com/xtxerr/nibbled/internal/storage/session"
)

// SizeRecorder observes the size of every session handed to a reader.
type SizeRecorder interface {
	Record(size int)
}

// Cursor is the per-handle read state.
type Cursor struct {
	seq       uint64 // session being read
	declared  int    // size the session was finalized with
	size      int    // declared size less abandoned bytes
	read      int    // bytes of that session already consumed
	started   bool   // a session has been dequeued for this handle
	exhausted bool
	offset    int64 // total bytes delivered on this handle
}

// NewCursor returns a fresh cursor with the exhausted flag cleared.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Exhausted reports whether the cursor's session has been fully read.
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}

// Offset returns the number of bytes delivered through this cursor.
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Session returns the bound and progress of the cursor's session.
func (c *Cursor) Session() (size, read int, ok bool) {
	return c.size, c.read, c.started
}

// Reader consumes sessions from the store. It shares Lock with the ingest
// worker; every store and cursor mutation happens under it.
type Reader struct {
	mu      sync.Locker
	store   *pages.Store
	tracker *session.Tracker
	sizes   SizeRecorder
	log     *slog.Logger

	// The session currently being read. The head-page cursor is a single
	// stream, so only one handle may be mid-session at a time.
	active *Cursor

	// Session released mid-read whose remaining bytes are still to be
	// skipped. Its cursor keeps counting what was consumed.
	discarding *Cursor

	stats Stats
}

// Stats holds reader statistics.
type Stats struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsAbandoned int64
	BytesDelivered    int64
	BytesDiscarded    int64
	PagesReleased     int64
}

// Config wires a reader to the shared device state.
type Config struct {
	Lock    sync.Locker
	Store   *pages.Store
	Tracker *session.Tracker

	// Sizes is optional.
	Sizes  SizeRecorder
	Logger *slog.Logger
}

// New creates a reader.
func New(cfg Config) *Reader {
	r := &Reader{
		mu:      cfg.Lock,
		store:   cfg.Store,
		tracker: cfg.Tracker,
		sizes:   cfg.Sizes,
		log:     cfg.Logger,
	}
	if r.mu == nil {
		r.mu = &sync.Mutex{}
	}
	if r.log == nil {
		r.log = logging.Discard()
	}
	return r
}

// Read copies up to len(p) bytes of c's session into p and returns the
// count. It returns 0 when c is exhausted, when no session is pending, when
// another cursor is mid-session, or when no session byte is resident yet.
func (r *Reader) Read(c *Cursor, p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	want, ok := r.beginLocked(c, len(p))
	if !ok {
		return 0
	}

	n := 0
	for n < want {
		chunk := r.nextChunkLocked(want - n)
		copy(p[n:], chunk)
		r.consumeLocked(len(chunk))
		n += len(chunk)
	}

	r.finishLocked(c, n)
	return n
}

// ReadTo copies up to max bytes of c's session into w. Short writes are
// retried until the bytes taken from the store have all landed or w fails.
// Bytes are consumed from the store only after w accepted them.
func (r *Reader) ReadTo(c *Cursor, w io.Writer, max int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want, ok := r.beginLocked(c, max)
	if !ok {
		return 0, nil
	}

	n := 0
	for n < want {
		chunk := r.nextChunkLocked(want - n)

		for len(chunk) > 0 {
			written, err := w.Write(chunk)
			if written > 0 {
				r.consumeLocked(written)
				n += written
				chunk = chunk[written:]
			}
			if err != nil {
				r.finishLocked(c, n)
				return n, fmt.Errorf("copy session bytes: %w", err)
			}
			if written == 0 {
				r.finishLocked(c, n)
				return n, fmt.Errorf("copy session bytes: %w", io.ErrShortWrite)
			}
		}
	}

	r.finishLocked(c, n)
	return n, nil
}

// Release drops c. If c was mid-session, the rest of that session is
// discarded so the next session starts at the right byte.
func (r *Reader) Release(c *Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != c {
		return
	}
	r.active = nil

	r.refreshLocked(c)
	if c.read == c.size {
		r.tracker.Forget(c.seq)
		return
	}

	r.discarding = c
	r.stats.SessionsAbandoned++
	r.log.Debug("session abandoned",
		"session", c.seq,
		"size", c.size,
		"read", c.read)

	r.discardLocked()
}

// Stats returns reader statistics.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// beginLocked decides how many bytes c may read now, dequeuing a session if
// c has none yet.
func (r *Reader) beginLocked(c *Cursor, max int) (int, bool) {
	if c.exhausted || max <= 0 {
		return 0, false
	}

	if !c.started {
		if r.active != nil || !r.discardLocked() {
			return 0, false
		}

		declared, ok := r.tracker.Peek()
		if !ok {
			return 0, false
		}
		seq := r.tracker.HeadSeq()
		size := declared - r.tracker.Shortfall(seq)
		if size > 0 && r.unreadLocked() == 0 {
			return 0, false
		}

		r.tracker.Dequeue()
		c.seq = seq
		c.declared = declared
		c.size = size
		c.read = 0
		c.started = true
		r.active = c
		r.stats.SessionsStarted++

		if r.sizes != nil {
			r.sizes.Record(size)
		}
	}

	r.refreshLocked(c)
	if c.read == c.size {
		r.finishLocked(c, 0)
		return 0, false
	}

	want := min(max, c.size-c.read, r.unreadLocked())
	if want <= 0 {
		return 0, false
	}
	return want, true
}

// refreshLocked shrinks c's bound by bytes of its session the worker has
// abandoned since the last call.
func (r *Reader) refreshLocked(c *Cursor) {
	c.size = c.declared - r.tracker.Shortfall(c.seq)
}

// finishLocked books n delivered bytes against c.
func (r *Reader) finishLocked(c *Cursor, n int) {
	c.read += n
	c.offset += int64(n)
	r.stats.BytesDelivered += int64(n)

	if c.read == c.size {
		c.exhausted = true
		r.active = nil
		r.tracker.Forget(c.seq)
		r.stats.SessionsCompleted++
	}

	r.compactLocked()
}

// unreadLocked returns resident bytes not yet consumed. Consumed bytes of
// the head page stay resident until the page is released.
func (r *Reader) unreadLocked() int {
	return r.store.DataSize() - r.tracker.ReadOffset()
}

// nextChunkLocked returns the next run of unread bytes within the head page,
// at most n long.
func (r *Reader) nextChunkLocked(n int) []byte {
	head, _ := r.store.HeadPage()
	off := r.tracker.ReadOffset()
	end := min(len(head), off+n, off+r.unreadLocked())
	return head[off:end]
}

// consumeLocked advances the read cursor and releases the head page once it
// is fully drained.
func (r *Reader) consumeLocked(n int) {
	if r.tracker.AdvanceRead(n) {
		if _, ok := r.store.RemoveHeadPage(); ok {
			r.stats.PagesReleased++
		}
	}
}

// discardLocked skips the resident bytes of a released session. Reports
// whether nothing remains to be skipped.
func (r *Reader) discardLocked() bool {
	if c := r.discarding; c != nil {
		r.refreshLocked(c)
		for c.read < c.size {
			avail := r.unreadLocked()
			if avail == 0 {
				break
			}
			chunk := r.nextChunkLocked(min(c.size-c.read, avail))
			r.consumeLocked(len(chunk))
			c.read += len(chunk)
			r.stats.BytesDiscarded += int64(len(chunk))
		}
		if c.read == c.size {
			r.tracker.Forget(c.seq)
			r.discarding = nil
		}
	}
	r.compactLocked()
	return r.discarding == nil
}

// compactLocked frees every page once nothing unread is resident, leaving
// the store empty with both cursors at 0.
func (r *Reader) compactLocked() {
	if r.store.NumPages() == 0 || r.unreadLocked() != 0 {
		return
	}
	freed := r.store.NumPages()
	r.store.Reset()
	r.tracker.ResetOffsets()
	r.stats.PagesReleased += int64(freed)
}
