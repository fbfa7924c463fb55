package wire

import (
	"bytes"
	"io"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTripSessions(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	sessions := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0xab}, 5000),
	}
	for _, s := range sessions {
		if err := w.Write(s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	frames, written := w.Stats()
	if frames != 3 || written != int64(buf.Len()) {
		t.Errorf("expected 3 frames totalling %d bytes, got %d and %d", buf.Len(), frames, written)
	}

	r := NewReader(&buf)
	for i, want := range sessions {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("session %d: expected %d bytes, got %d", i, len(want), len(got))
		}
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	// Length prefix claiming a frame far above the limit.
	frame := protowire.AppendVarint(nil, 1<<30)

	r := NewReader(bytes.NewReader(frame))
	if _, err := r.Read(); err == nil || err == io.EOF {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestReadTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write([]byte("truncated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data := buf.Bytes()[:buf.Len()-3]

	if _, err := NewReader(bytes.NewReader(data)).Read(); err == nil {
		t.Error("expected error for truncated frame")
	}
}
