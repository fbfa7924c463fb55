// Package wire frames drained sessions for export.
//
// Each session is one wrapperspb.BytesValue, length-delimited with
// protobuf's standard varint prefix, so a stream of sessions can be split
// again without knowing the sentinel.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/xtxerr/nibbled/config"
)

// Reader reads length-delimited session frames from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	mu      sync.Mutex
	maxSize int64
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       bufio.NewReader(r),
		maxSize: config.DefaultMaxFrameSize,
	}
}

// Read returns the next session. io.EOF is returned unwrapped at a clean
// end of stream. Frames larger than the maximum frame size are rejected.
func (r *Reader) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame := &wrapperspb.BytesValue{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: r.maxSize,
	}
	if err := opts.UnmarshalFrom(r.r, frame); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read session frame: %w", err)
	}
	return frame.GetValue(), nil
}

// Writer writes length-delimited session frames to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w      io.Writer
	mu     sync.Mutex
	frames int64
	bytes  int64
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames one session.
func (w *Writer) Write(session []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := protodelim.MarshalTo(w.w, wrapperspb.Bytes(session))
	if err != nil {
		return fmt.Errorf("write session frame: %w", err)
	}

	w.frames++
	w.bytes += int64(n)
	return nil
}

// Stats returns the number of frames and bytes written.
func (w *Writer) Stats() (frames, bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.bytes
}
