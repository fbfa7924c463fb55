package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/nibbled/internal/device"
	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/storage/config"
)

func TestOpenSinks_LogsCloseErrors(t *testing.T) {
	old := logging.Logger
	t.Cleanup(func() {
		logging.Logger = old
		if old != nil {
			slog.SetDefault(old)
		}
	})

	var logs bytes.Buffer
	logging.InitWriter(&logs, slog.LevelInfo, false)

	dev, err := device.New(nil)
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	t.Cleanup(func() { dev.Stop() })

	dir := t.TempDir()
	cfg := config.ExportConfig{
		WirePath:    filepath.Join(dir, "sessions.bin"),
		ParquetPath: filepath.Join(dir, "sessions.parquet"),
	}

	dr, closeAll, err := openSinks(cfg, dev)
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	dr.Close()

	closeAll()
	if strings.Contains(logs.String(), "close export output") {
		t.Fatalf("first close should succeed, got:\n%s", logs.String())
	}
	if fi, err := os.Stat(cfg.ParquetPath); err != nil || fi.Size() == 0 {
		t.Errorf("expected a finished parquet file, got %v", err)
	}

	// The wire file is already closed, so its second Close fails.
	closeAll()
	if !strings.Contains(logs.String(), "close export output") {
		t.Errorf("expected the close error to be logged, got:\n%s", logs.String())
	}
}
