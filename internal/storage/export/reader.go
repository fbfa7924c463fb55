package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ParquetReader reads sessions from a Parquet file.
type ParquetReader struct {
	file   *os.File
	reader *parquet.GenericReader[SessionRow]
	path   string
}

// NewParquetReader opens the file at path.
func NewParquetReader(path string) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[SessionRow](f)

	return &ParquetReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once no rows remain.
func (r *ParquetReader) Read(n int) ([]SessionRow, error) {
	rows := make([]SessionRow, n)
	count, err := r.reader.Read(rows)
	if count > 0 {
		return rows[:count], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll reads every row in the file.
func (r *ParquetReader) ReadAll() ([]SessionRow, error) {
	rows := make([]SessionRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *ParquetReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ParquetReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *ParquetReader) Path() string {
	return r.path
}
