package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xtxerr/nibbled/internal/device"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()

	dev, err := device.New(nil)
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	t.Cleanup(func() { dev.Stop() })

	var out bytes.Buffer
	return newShell(dev, &out), &out
}

func TestShell_FeedAndRead(t *testing.T) {
	sh, out := newTestShell(t)

	sh.execute("feed hello")
	sh.execute("open")
	if !strings.Contains(out.String(), "handle 1") {
		t.Fatalf("expected handle 1, got:\n%s", out.String())
	}

	out.Reset()
	sh.execute("read 1")
	if !strings.Contains(out.String(), "5 bytes, offset 5") {
		t.Errorf("unexpected read output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "68 65 6c 6c 6f") {
		t.Errorf("expected hex dump of payload:\n%s", out.String())
	}

	out.Reset()
	sh.execute("read 1")
	if !strings.Contains(out.String(), "session exhausted") {
		t.Errorf("expected exhausted handle:\n%s", out.String())
	}
}

func TestShell_FeedHex(t *testing.T) {
	sh, out := newTestShell(t)

	sh.execute("feed hex 01 02 ff")
	sh.execute("open")
	out.Reset()
	sh.execute("read 1 2")
	if !strings.Contains(out.String(), "2 bytes, offset 2") {
		t.Errorf("unexpected read output:\n%s", out.String())
	}

	out.Reset()
	sh.execute("feed hex zz")
	if !strings.HasPrefix(out.String(), "error [") {
		t.Errorf("expected error for bad hex, got:\n%s", out.String())
	}
}

func TestShell_Errors(t *testing.T) {
	sh, out := newTestShell(t)

	for _, line := range []string{
		"read 7",
		"close x",
		"limit -1",
		"limit",
		"bogus",
	} {
		out.Reset()
		if sh.execute(line) {
			t.Errorf("%q should not exit", line)
		}
		if !strings.HasPrefix(out.String(), "error [") {
			t.Errorf("%q: expected error, got:\n%s", line, out.String())
		}
	}
}

func TestShell_LimitAndClose(t *testing.T) {
	sh, out := newTestShell(t)

	sh.execute("open")
	out.Reset()
	sh.execute("open")
	if !strings.HasPrefix(out.String(), "error [") {
		t.Errorf("second open should be refused:\n%s", out.String())
	}

	sh.execute("limit 2")
	out.Reset()
	sh.execute("open")
	if !strings.Contains(out.String(), "handle") {
		t.Errorf("open after raising limit failed:\n%s", out.String())
	}

	sh.execute("close 1")
	if sh.dev.OpenCount() != 1 {
		t.Errorf("expected 1 open handle, got %d", sh.dev.OpenCount())
	}
}

func TestShell_StatusAndExit(t *testing.T) {
	sh, out := newTestShell(t)

	sh.execute("open")
	out.Reset()
	sh.execute("status")
	if !strings.HasPrefix(out.String(), "nprocs 1, max_nprocs 1\n") {
		t.Errorf("unexpected status:\n%s", out.String())
	}

	if !sh.execute("  quit ") {
		t.Error("quit should exit")
	}
	if sh.dev.OpenCount() != 0 {
		t.Errorf("exit should close handles, got %d open", sh.dev.OpenCount())
	}
	if sh.execute("") {
		t.Error("empty line should not exit")
	}
}
