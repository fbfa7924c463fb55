// Package session tracks message boundaries in the ingested byte stream.
//
// A session is one sentinel-delimited run of bytes. While it accumulates it
// is the "open" session; once the sentinel arrives its size is finalized and
// queued for the reader. The tracker also owns the write and read cursors
// into the tail and head pages of the backing store.
package session

import (
	"sync/atomic"

	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/storage/buffer"
)

// Tracker is the session-size FIFO plus the page cursors.
//
// RecordByte, CloseSession and OpenSeq belong to the producer; Peek,
// HeadSeq and Dequeue to the reader. Those two sides meet only through the
// lock-free ring, so the producer never blocks. The cursor and shortfall
// methods must be called with the device lock held.
//
// Sessions are numbered from 0 in the order they are finalized. A session's
// shortfall is the number of its bytes the worker abandoned; those bytes
// were counted into its size but never reach the store.
type Tracker struct {
	finalized *buffer.Ring[int]
	open      atomic.Int64
	dequeued  uint64

	writeOffset int
	readOffset  int
	pageSize    int

	shortfall map[uint64]int
	abandoned int64

	// Statistics
	closed   atomic.Int64
	rejected atomic.Int64
}

// New creates a tracker holding at most capacity finalized sessions.
func New(capacity, pageSize int) *Tracker {
	return &Tracker{
		finalized: buffer.New[int](capacity),
		pageSize:  pageSize,
		shortfall: make(map[uint64]int),
	}
}

// RecordByte grows the open session by one byte.
func (t *Tracker) RecordByte() {
	t.open.Add(1)
}

// CloseSession finalizes the open session and starts a fresh one at size 0.
// When every slot already holds an unread session the close is refused with
// ErrSessionTableFull and the open session keeps accumulating.
func (t *Tracker) CloseSession() (int, error) {
	size := int(t.open.Load())
	if !t.finalized.Push(size) {
		t.rejected.Add(1)
		return size, errors.ErrSessionTableFull
	}
	t.open.Add(-int64(size))
	t.closed.Add(1)
	return size, nil
}

// OpenSeq returns the sequence number the open session will carry once it
// is finalized.
func (t *Tracker) OpenSeq() uint64 {
	return uint64(t.closed.Load())
}

// HeadSeq returns the sequence number of the oldest finalized session.
func (t *Tracker) HeadSeq() uint64 {
	return t.dequeued
}

// Peek returns the size of the oldest finalized session without removing it.
func (t *Tracker) Peek() (int, bool) {
	return t.finalized.Peek()
}

// Dequeue pops the oldest finalized session size.
func (t *Tracker) Dequeue() (int, bool) {
	size, ok := t.finalized.Pop()
	if ok {
		t.dequeued++
	}
	return size, ok
}

// Abandon records that one byte of session seq will never be stored.
func (t *Tracker) Abandon(seq uint64) {
	t.shortfall[seq]++
	t.abandoned++
}

// Shortfall returns how many bytes of session seq were abandoned so far.
func (t *Tracker) Shortfall(seq uint64) int {
	return t.shortfall[seq]
}

// Forget drops the shortfall of a session that has been fully consumed.
func (t *Tracker) Forget(seq uint64) {
	delete(t.shortfall, seq)
}

// Count returns the number of finalized sessions waiting to be read.
func (t *Tracker) Count() int {
	return t.finalized.Len()
}

// Capacity returns the maximum number of finalized sessions.
func (t *Tracker) Capacity() int {
	return t.finalized.Cap()
}

// OpenSize returns the size of the session still accumulating.
func (t *Tracker) OpenSize() int {
	return int(t.open.Load())
}

// WriteOffset returns the position within the tail page being filled.
func (t *Tracker) WriteOffset() int {
	return t.writeOffset
}

// AdvanceWrite moves the write cursor one byte, wrapping at the page end.
func (t *Tracker) AdvanceWrite() {
	t.writeOffset = (t.writeOffset + 1) % t.pageSize
}

// ReadOffset returns the position within the head page being drained.
func (t *Tracker) ReadOffset() int {
	return t.readOffset
}

// AdvanceRead moves the read cursor n bytes within the head page. It reports
// whether the cursor wrapped, meaning the head page is fully drained.
func (t *Tracker) AdvanceRead(n int) bool {
	t.readOffset = (t.readOffset + n) % t.pageSize
	return t.readOffset == 0
}

// ResetOffsets rewinds both cursors. Used when the store is emptied.
func (t *Tracker) ResetOffsets() {
	t.writeOffset = 0
	t.readOffset = 0
}

// Stats returns tracker statistics. Call it with the device lock held.
func (t *Tracker) Stats() Stats {
	return Stats{
		Pending:   t.finalized.Len(),
		Capacity:  t.finalized.Cap(),
		OpenSize:  int(t.open.Load()),
		Closed:    t.closed.Load(),
		Rejected:  t.rejected.Load(),
		Abandoned: t.abandoned,
	}
}

// Stats holds tracker statistics.
type Stats struct {
	Pending   int
	Capacity  int
	OpenSize  int
	Closed    int64
	Rejected  int64
	Abandoned int64 // bytes lost after they were counted into a session
}
