// Package ingestion moves nibbles from the producer into the paged store.
//
// The pipeline: nibbles → Assembler → byte queue → Worker → pages.Store.
// The Assembler runs in the producer context and never blocks or allocates;
// the Worker runs on its own goroutine and is the only writer of the store.
package ingestion

import (
	"sync/atomic"

	"github.com/xtxerr/nibbled/internal/storage/buffer"
	"github.com/xtxerr/nibbled/internal/storage/session"
)

// Assembler reassembles nibble pairs into bytes and splits them into
// sessions at the sentinel byte.
//
// OnNibble must not be called concurrently with itself: there is exactly one
// producer.
type Assembler struct {
	queue    *buffer.Ring[buffer.SessionByte]
	tracker  *session.Tracker
	sentinel byte
	schedule func()

	// Producer-owned state
	half    bool // a high nibble is waiting for its low half
	partial byte

	// Statistics
	nibbles  atomic.Int64
	bytes    atomic.Int64
	closed   atomic.Int64
	dropped  atomic.Int64
	rejected atomic.Int64
}

// AssemblerStats holds assembler statistics.
type AssemblerStats struct {
	Nibbles  int64
	Bytes    int64
	Closed   int64 // sessions finalized
	Dropped  int64 // bytes lost to a full queue
	Rejected int64 // sentinels refused by a full session table
}

// NewAssembler creates an assembler feeding queue and tracker. schedule is
// called after every completed byte; it must not block.
func NewAssembler(queue *buffer.Ring[buffer.SessionByte], tracker *session.Tracker, sentinel byte, schedule func()) *Assembler {
	if schedule == nil {
		schedule = func() {}
	}
	return &Assembler{
		queue:    queue,
		tracker:  tracker,
		sentinel: sentinel,
		schedule: schedule,
	}
}

// OnNibble accepts one 4-bit value. Only the low four bits of n are used.
func (a *Assembler) OnNibble(n byte) {
	a.nibbles.Add(1)
	n &= 0x0f

	if !a.half {
		a.partial = n << 4
		a.half = true
		return
	}

	b := a.partial | n
	a.partial = 0
	a.half = false
	a.bytes.Add(1)

	switch {
	case b == a.sentinel:
		if _, err := a.tracker.CloseSession(); err != nil {
			a.rejected.Add(1)
		} else {
			a.closed.Add(1)
		}
	case a.queue.Push(buffer.SessionByte{Seq: a.tracker.OpenSeq(), Value: b}):
		a.tracker.RecordByte()
	default:
		a.dropped.Add(1)
	}

	a.schedule()
}

// OnByte delivers both nibbles of b, high first.
func (a *Assembler) OnByte(b byte) {
	a.OnNibble(b >> 4)
	a.OnNibble(b & 0x0f)
}

// Pending reports whether a high nibble is waiting for its pair.
func (a *Assembler) Pending() bool {
	return a.half
}

// Stats returns assembler statistics.
func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{
		Nibbles:  a.nibbles.Load(),
		Bytes:    a.bytes.Load(),
		Closed:   a.closed.Load(),
		Dropped:  a.dropped.Load(),
		Rejected: a.rejected.Load(),
	}
}
