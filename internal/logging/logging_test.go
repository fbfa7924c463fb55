package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): unexpected error state: %v", tt.in, err)
		}
		if got != tt.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.expected, got)
		}
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	Component("worker").Info("drained", "bytes", 12)

	out := buf.String()
	if !strings.Contains(out, "component=worker") {
		t.Errorf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "bytes=12") {
		t.Errorf("expected bytes attribute, got %q", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)

	ctx := ContextWithHandleID(context.Background(), 7)
	ctx = ContextWithSession(ctx, 3)
	WithContext(ctx).Info("read")

	out := buf.String()
	if !strings.Contains(out, `"handle":7`) || !strings.Contains(out, `"session":3`) {
		t.Errorf("expected handle and session attributes, got %q", out)
	}
}
