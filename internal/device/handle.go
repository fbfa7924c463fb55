package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/reader"
)

// Handle is one open reader. A Handle reads at most one session; open a new
// Handle for the next one.
type Handle struct {
	dev *Device
	id  uint64

	mu     sync.Mutex
	cursor *reader.Cursor
	closed bool
}

// ID returns the handle number, unique within the device.
func (h *Handle) ID() uint64 {
	return h.id
}

// Read implements io.Reader but never waits for data. It returns io.EOF
// whenever nothing is readable right now, which includes the middle of a
// session whose remaining bytes are still queued. Such an EOF is not final:
// check Exhausted before treating io.EOF as the end of the session, and read
// again later if it reports false.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := h.dev.reader.Read(h.cursor, p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadTo copies up to max bytes of the session into w, retrying short
// writes.
func (h *Handle) ReadTo(w io.Writer, max int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.ErrClosed
	}

	n, err := h.dev.reader.ReadTo(h.cursor, w, max)
	if err != nil {
		return n, fmt.Errorf("handle %d: %w", h.id, err)
	}
	return n, nil
}

// Close releases the handle. Unread bytes of a session it started are
// discarded.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.ErrClosed
	}
	h.closed = true

	h.dev.reader.Release(h.cursor)
	h.dev.openCount.Add(-1)
	h.dev.log.Debug("handle closed", "handle", h.id, "offset", h.cursor.Offset())

	return nil
}

// Offset returns the number of bytes delivered through this handle.
func (h *Handle) Offset() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor.Offset()
}

// Exhausted reports whether the handle's session has been fully read.
func (h *Handle) Exhausted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor.Exhausted()
}

// Session reports the size of the session the handle is reading and how
// much of it has been delivered. ok is false before the first byte.
func (h *Handle) Session() (size, read int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor.Session()
}
