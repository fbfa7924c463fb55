package reader

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/xtxerr/nibbled/internal/storage/buffer"
	"github.com/xtxerr/nibbled/internal/storage/ingestion"
	"github.com/xtxerr/nibbled/internal/storage/pages"
	"github.com/xtxerr/nibbled/internal/storage/session"
	"github.com/xtxerr/nibbled/internal/testutil"
)

type fixture struct {
	mu      sync.Mutex
	store   *pages.Store
	tracker *session.Tracker
	worker  *ingestion.Worker
	reader  *Reader
	sizes   *sizeLog
}

type sizeLog struct {
	sizes []int
}

func (s *sizeLog) Record(size int) { s.sizes = append(s.sizes, size) }

func newFixture(pageSize int) *fixture {
	return newBudgetFixture(pageSize, 0)
}

// newBudgetFixture caps the store at maxPages live pages, 0 = unlimited.
func newBudgetFixture(pageSize, maxPages int) *fixture {
	f := &fixture{
		store:   pages.New(pageSize, pages.NewPoolAllocator(pageSize, maxPages), nil),
		tracker: session.New(8, pageSize),
		sizes:   &sizeLog{},
	}
	f.worker = ingestion.NewWorker(ingestion.Config{
		Lock:    &f.mu,
		Queue:   buffer.NewByteQueue(64),
		Store:   f.store,
		Tracker: f.tracker,
	})
	f.reader = New(Config{
		Lock:    &f.mu,
		Store:   f.store,
		Tracker: f.tracker,
		Sizes:   f.sizes,
	})
	return f
}

// feed delivers data without the trailing sentinel, draining often enough
// that the 64-byte queue never overflows.
func (f *fixture) feed(data []byte) {
	asm := f.worker.Assembler()
	for i, b := range data {
		asm.OnByte(b)
		if i%32 == 31 {
			f.worker.DrainOnce()
		}
	}
	f.worker.DrainOnce()
}

func (f *fixture) session(data []byte) {
	f.feed(data)
	f.worker.Assembler().OnByte(0x00)
}

func TestRead_WholeSession(t *testing.T) {
	f := newFixture(4096)
	data := testutil.Payload(5000, 0x00)
	f.session(data)

	if f.store.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", f.store.NumPages())
	}

	c := NewCursor()
	buf := make([]byte, 6000)
	n := f.reader.Read(c, buf)

	if n != 5000 {
		t.Fatalf("expected 5000 bytes, got %d", n)
	}
	if !bytes.Equal(buf[:n], data) {
		t.Error("session bytes differ")
	}
	if !c.Exhausted() {
		t.Error("cursor should be exhausted")
	}
	if f.store.NumPages() != 0 || f.store.DataSize() != 0 {
		t.Errorf("expected empty store, got %d pages %d bytes", f.store.NumPages(), f.store.DataSize())
	}
	if f.tracker.ReadOffset() != 0 || f.tracker.WriteOffset() != 0 {
		t.Errorf("cursors not reset: read %d write %d", f.tracker.ReadOffset(), f.tracker.WriteOffset())
	}

	if n := f.reader.Read(c, buf); n != 0 {
		t.Errorf("exhausted cursor returned %d bytes", n)
	}
}

func TestRead_InChunks(t *testing.T) {
	f := newFixture(16)
	data := testutil.Payload(50, 0x00)
	f.session(data)

	c := NewCursor()
	var got []byte
	buf := make([]byte, 7)
	for {
		n := f.reader.Read(c, buf)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}

	if !bytes.Equal(got, data) {
		t.Errorf("expected %d bytes in order, got %d", len(data), len(got))
	}
	if c.Offset() != 50 {
		t.Errorf("expected offset 50, got %d", c.Offset())
	}
	if f.store.NumPages() != 0 {
		t.Errorf("expected all pages released, got %d", f.store.NumPages())
	}
}

func TestRead_TwoSessionsInOrder(t *testing.T) {
	f := newFixture(16)
	first := testutil.Payload(20, 0x00)
	second := testutil.Payload(9, 0x00)
	f.session(first)
	f.session(second)

	buf := make([]byte, 100)

	c1 := NewCursor()
	if n := f.reader.Read(c1, buf); n != 20 || !bytes.Equal(buf[:n], first) {
		t.Errorf("first session: got %d bytes", n)
	}

	// Still exhausted until a fresh cursor is used.
	if n := f.reader.Read(c1, buf); n != 0 {
		t.Errorf("expected 0 on exhausted cursor, got %d", n)
	}

	c2 := NewCursor()
	if n := f.reader.Read(c2, buf); n != 9 || !bytes.Equal(buf[:n], second) {
		t.Errorf("second session: got %d bytes", n)
	}

	if len(f.sizes.sizes) != 2 || f.sizes.sizes[0] != 20 || f.sizes.sizes[1] != 9 {
		t.Errorf("unexpected recorded sizes: %v", f.sizes.sizes)
	}
}

func TestRead_NoData(t *testing.T) {
	f := newFixture(16)
	c := NewCursor()

	if n := f.reader.Read(c, make([]byte, 10)); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}

	// Bytes resident but the session is still open.
	f.feed([]byte{1, 2, 3})
	if n := f.reader.Read(c, make([]byte, 10)); n != 0 {
		t.Errorf("open session must not be readable, got %d", n)
	}
	if c.Exhausted() {
		t.Error("empty read must not exhaust the cursor")
	}
}

func TestRead_BytesStillInFlight(t *testing.T) {
	f := newFixture(16)
	asm := f.worker.Assembler()

	for _, b := range []byte{1, 2, 3, 4} {
		asm.OnByte(b)
	}
	f.worker.DrainOnce()
	asm.OnByte(5)
	asm.OnByte(6)
	asm.OnByte(0x00)

	c := NewCursor()
	buf := make([]byte, 10)
	if n := f.reader.Read(c, buf); n != 4 {
		t.Fatalf("expected the 4 resident bytes, got %d", n)
	}
	if c.Exhausted() {
		t.Fatal("cursor exhausted before the session ended")
	}

	f.worker.DrainOnce()
	if n := f.reader.Read(c, buf); n != 2 || buf[0] != 5 || buf[1] != 6 {
		t.Errorf("expected remaining 2 bytes, got %d", n)
	}
	if !c.Exhausted() {
		t.Error("cursor should be exhausted")
	}
}

func TestRead_ZeroLengthSession(t *testing.T) {
	f := newFixture(16)
	f.worker.Assembler().OnByte(0x00)
	f.session([]byte{7, 8})

	c := NewCursor()
	if n := f.reader.Read(c, make([]byte, 10)); n != 0 {
		t.Errorf("expected empty session, got %d", n)
	}
	if !c.Exhausted() {
		t.Error("zero-length session should exhaust the cursor")
	}

	if n := f.reader.Read(NewCursor(), make([]byte, 10)); n != 2 {
		t.Errorf("expected the next session, got %d", n)
	}
}

func TestRead_OneSessionInFlight(t *testing.T) {
	f := newFixture(16)
	f.session(testutil.Payload(10, 0x00))
	f.session(testutil.Payload(5, 0x00))

	a, b := NewCursor(), NewCursor()
	buf := make([]byte, 4)

	if n := f.reader.Read(a, buf); n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}
	if n := f.reader.Read(b, buf); n != 0 {
		t.Errorf("second cursor must wait, got %d", n)
	}

	f.reader.Read(a, make([]byte, 10))
	if n := f.reader.Read(b, make([]byte, 10)); n != 5 {
		t.Errorf("expected second session after first finished, got %d", n)
	}
}

func TestRelease_DiscardsRestOfSession(t *testing.T) {
	f := newFixture(16)
	first := testutil.Payload(30, 0x00)
	second := []byte{9, 9, 9}
	f.session(first)
	f.session(second)

	c := NewCursor()
	f.reader.Read(c, make([]byte, 10))
	f.reader.Release(c)

	buf := make([]byte, 10)
	n := f.reader.Read(NewCursor(), buf)
	if n != 3 || !bytes.Equal(buf[:n], second) {
		t.Errorf("expected second session after release, got %v", buf[:n])
	}

	stats := f.reader.Stats()
	if stats.SessionsAbandoned != 1 || stats.BytesDiscarded != 20 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRelease_DiscardsBytesArrivingLater(t *testing.T) {
	f := newFixture(16)
	asm := f.worker.Assembler()

	asm.OnByte(1)
	f.worker.DrainOnce()
	asm.OnByte(2)
	asm.OnByte(3)
	asm.OnByte(0x00)

	c := NewCursor()
	if n := f.reader.Read(c, make([]byte, 10)); n != 1 {
		t.Fatalf("expected 1 resident byte, got %d", n)
	}
	f.reader.Release(c)

	f.session([]byte{4})

	buf := make([]byte, 10)
	n := f.reader.Read(NewCursor(), buf)
	if n != 1 || buf[0] != 4 {
		t.Errorf("expected byte 4, got %v", buf[:n])
	}
}

type shortWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.buf.Write(p)
}

func TestReadTo_RetriesShortWrites(t *testing.T) {
	f := newFixture(16)
	data := testutil.Payload(40, 0x00)
	f.session(data)

	w := &shortWriter{limit: 3}
	n, err := f.reader.ReadTo(NewCursor(), w, 100)
	if err != nil {
		t.Fatalf("ReadTo: %v", err)
	}
	if n != 40 || !bytes.Equal(w.buf.Bytes(), data) {
		t.Errorf("expected 40 bytes, got %d", n)
	}
}

type failingWriter struct {
	after int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, io.ErrClosedPipe
	}
	n := min(len(p), w.after)
	w.after -= n
	return n, nil
}

func TestReadTo_WriterFailureKeepsRest(t *testing.T) {
	f := newFixture(16)
	data := testutil.Payload(10, 0x00)
	f.session(data)

	c := NewCursor()
	n, err := f.reader.ReadTo(c, &failingWriter{after: 4}, 100)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 delivered, got %d", n)
	}

	buf := make([]byte, 10)
	if n := f.reader.Read(c, buf); n != 6 || !bytes.Equal(buf[:n], data[4:]) {
		t.Errorf("expected remaining 6 bytes, got %d", n)
	}
}

func TestRead_AbandonedBytesShrinkSession(t *testing.T) {
	f := newBudgetFixture(16, 1)
	asm := f.worker.Assembler()

	for b := byte(1); b <= 10; b++ {
		asm.OnByte(b)
	}
	f.worker.DrainOnce()
	for b := byte(11); b <= 20; b++ {
		asm.OnByte(b)
	}
	asm.OnByte(0x00)

	c := NewCursor()
	buf := make([]byte, 32)
	if n := f.reader.Read(c, buf); n != 10 {
		t.Fatalf("expected the 10 resident bytes, got %d", n)
	}

	// The page fills at 16 bytes; 17..20 cannot be stored.
	f.worker.DrainOnce()

	n := f.reader.Read(c, buf)
	if n != 6 || buf[0] != 11 || buf[5] != 16 {
		t.Fatalf("expected bytes 11..16, got %v", buf[:n])
	}
	if !c.Exhausted() {
		t.Error("session should end at its last stored byte")
	}
	if f.store.NumPages() != 0 {
		t.Errorf("expected empty store, got %d pages", f.store.NumPages())
	}

	next := []byte{0xb, 0xb, 0xb}
	f.session(next)
	n = f.reader.Read(NewCursor(), buf)
	if !bytes.Equal(buf[:n], next) {
		t.Errorf("next session corrupted: %v", buf[:n])
	}
}

func TestRelease_AfterAbandonKeepsLaterSessions(t *testing.T) {
	f := newBudgetFixture(16, 1)

	f.session(testutil.Payload(20, 0x00))

	c := NewCursor()
	if n := f.reader.Read(c, make([]byte, 10)); n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	f.reader.Release(c)

	b := []byte("BBBB")
	cc := []byte("CCCC")
	f.session(b)
	f.session(cc)

	buf := make([]byte, 32)
	for _, want := range [][]byte{b, cc} {
		n := f.reader.Read(NewCursor(), buf)
		if !bytes.Equal(buf[:n], want) {
			t.Errorf("expected %q, got %q", want, buf[:n])
		}
	}

	if st := f.reader.Stats(); st.BytesDiscarded != 6 {
		t.Errorf("expected only the 6 stored bytes discarded, got %d", st.BytesDiscarded)
	}
}

func TestRelease_InFlightBytesAbandonedLater(t *testing.T) {
	f := newBudgetFixture(4, 1)
	asm := f.worker.Assembler()

	asm.OnByte(1)
	asm.OnByte(2)
	f.worker.DrainOnce()
	for b := byte(3); b <= 9; b++ {
		asm.OnByte(b)
	}
	asm.OnByte(0x00)

	c := NewCursor()
	f.reader.Read(c, make([]byte, 1))
	f.reader.Release(c)

	// 3..6 fill the only page, 7..9 are abandoned.
	f.worker.DrainOnce()

	buf := make([]byte, 16)
	if n := f.reader.Read(NewCursor(), buf); n != 0 {
		t.Fatalf("nothing finalized yet, got %v", buf[:n])
	}

	next := []byte{0xb, 0xb}
	f.session(next)
	n := f.reader.Read(NewCursor(), buf)
	if !bytes.Equal(buf[:n], next) {
		t.Errorf("expected %v, got %v", next, buf[:n])
	}
}
