// Package export archives drained sessions.
//
// A Drainer repeatedly opens a device handle, reads one whole session and
// hands it to every Sink: a parquet file of SessionRows, a stream of
// length-delimited protobuf frames, or both.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/nibbled/internal/errors"
)

// Options configures the Parquet writer.
type Options struct {
	// Codec is one of snappy, zstd, lz4, gzip or none.
	Codec string
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Codec: "zstd"}
}

var codecs = map[string]compress.Codec{
	"snappy": &parquet.Snappy,
	"zstd":   &parquet.Zstd,
	"lz4":    &parquet.Lz4Raw,
	"gzip":   &parquet.Gzip,
	"none":   &parquet.Uncompressed,
	"":       &parquet.Uncompressed,
}

// codecFor returns the parquet-go codec registered under name.
func codecFor(name string) (compress.Codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, errors.NewInvalidArgument("codec", name, "unknown parquet codec")
	}
	return c, nil
}

// SessionRow is one drained session in Parquet format.
type SessionRow struct {
	Seq      int64  `parquet:"seq"`
	Size     int64  `parquet:"size"`
	ReadAtMs int64  `parquet:"read_at_ms"`
	Data     []byte `parquet:"data"`
}

// ParquetWriter writes sessions to a Parquet file.
type ParquetWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[SessionRow]
	rowCount int64
	closed   bool
}

// NewParquetWriter creates the file at path, replacing any existing one.
func NewParquetWriter(path string, opts Options) (*ParquetWriter, error) {
	codec, err := codecFor(opts.Codec)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[SessionRow](f,
		parquet.Compression(codec),
	)

	return &ParquetWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// WriteSession implements Sink.
func (w *ParquetWriter) WriteSession(s Session) error {
	return w.Write([]SessionRow{s.Row()})
}

// Write writes rows to the Parquet file.
func (w *ParquetWriter) Write(rows []SessionRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("parquet %s: %w", w.path, errors.ErrClosed)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Flush ends the current row group. The drainer calls it after every batch
// of sessions.
func (w *ParquetWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("parquet %s: %w", w.path, errors.ErrClosed)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush row group: %w", err)
	}
	return nil
}

// Close closes the writer.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ParquetWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ParquetWriter) Path() string {
	return w.path
}
