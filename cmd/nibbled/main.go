// nibbled is the nibble ingestion daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/xtxerr/nibbled/internal/device"
	"github.com/xtxerr/nibbled/internal/logging"
	"github.com/xtxerr/nibbled/internal/source"
	"github.com/xtxerr/nibbled/internal/storage/config"
	"github.com/xtxerr/nibbled/internal/storage/export"
	"github.com/xtxerr/nibbled/internal/wire"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "nibbled.yaml", "config file path")
	interactive := flag.Bool("shell", false, "run the interactive shell instead of exporting")
	sourceKind := flag.String("source", "", "source kind: file, stdin, random (overrides config)")
	sourcePath := flag.String("input", "", "input file for -source=file (overrides config)")
	wirePath := flag.String("wire", "", "session frame output, - for stdout (overrides config)")
	parquetPath := flag.String("parquet", "", "parquet session archive (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	statusEvery := flag.Duration("status-interval", 0, "log device status at this interval, 0 disables")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}

	// CLI overrides
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *sourcePath != "" {
		cfg.Source.Path = *sourcePath
	}
	if *wirePath != "" {
		cfg.Export.WirePath = *wirePath
	}
	if *parquetPath != "" {
		cfg.Export.ParquetPath = *parquetPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}

	log := logging.Component("main")
	log.Info("nibbled starting", "version", Version, "source", cfg.Source.Kind)

	if err := run(cfg, *interactive, *statusEvery); err != nil {
		log.Error("nibbled failed", "error", err)
		os.Exit(1)
	}
}

// initLogging writes logs to stderr so that stdout stays free for session
// frames. "auto" picks text on a terminal and JSON otherwise.
func initLogging(cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	jsonFormat := cfg.Format == "json"
	if cfg.Format == "auto" || cfg.Format == "" {
		jsonFormat = !term.IsTerminal(int(os.Stderr.Fd()))
	}

	logging.InitWriter(os.Stderr, level, jsonFormat)
	return nil
}

func run(cfg *config.Config, interactive bool, statusEvery time.Duration) error {
	log := logging.Component("main")

	dev, err := device.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dev.Start(ctx); err != nil {
		return err
	}
	defer dev.Stop()

	// The shell owns the terminal, so stdin cannot also be the source.
	pump := !(interactive && (cfg.Source.Kind == "stdin" || cfg.Source.Kind == ""))

	g, gctx := errgroup.WithContext(ctx)
	pumpDone := make(chan struct{})

	if pump {
		src, closer, err := source.FromConfig(cfg.Source, cfg.Device.Sentinel, os.Stdin)
		if err != nil {
			return err
		}

		g.Go(func() error {
			defer close(pumpDone)
			n, err := source.Pump(gctx, src, dev.OnNibble, cfg.Source.TriggerInterval)
			log.Info("source finished", "nibbles", n)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-gctx.Done()
			return closer.Close()
		})
	} else {
		close(pumpDone)
	}

	if statusEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					st := dev.Status()
					log.Info("status",
						"open", st.OpenCount,
						"num_pages", st.ResidentPages,
						"data_size", st.ResidentBytes,
						"sessions_pending", st.SessionsPending,
						"dropped", st.BytesDropped,
						"pressure", st.Pressure)
				}
			}
		})
	}

	if interactive {
		runShell(dev, os.Stdout)
		stop()
		return g.Wait()
	}

	drainer, closeSinks, err := openSinks(cfg.Export, dev)
	if err != nil {
		stop()
		g.Wait()
		return err
	}
	defer closeSinks()

	g.Go(func() error {
		defer stop()
		return drainUntilDone(gctx, dev, drainer, pumpDone, cfg.Export.PollInterval)
	})

	err = g.Wait()
	log.Info("nibbled stopped", "sessions_exported", drainer.Exported())
	return err
}

// openSinks builds the drainer for the configured outputs.
func openSinks(cfg config.ExportConfig, dev *device.Device) (*export.Drainer, func(), error) {
	var (
		sinks   []export.Sink
		closers []io.Closer
	)

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logging.Component("main").Error("close export output", "error", err)
			}
		}
	}

	switch cfg.WirePath {
	case "":
	case "-":
		sinks = append(sinks, export.WireSink{W: wire.NewWriter(os.Stdout)})
	default:
		f, err := os.Create(cfg.WirePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create wire output: %w", err)
		}
		closers = append(closers, f)
		sinks = append(sinks, export.WireSink{W: wire.NewWriter(f)})
	}

	if cfg.ParquetPath != "" {
		pw, err := export.NewParquetWriter(cfg.ParquetPath, export.Options{
			Codec: cfg.Compression,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pw)
		sinks = append(sinks, pw)
	}

	return export.NewDrainer(dev, cfg.PollInterval, sinks...), closeAll, nil
}

// drainUntilDone exports sessions until ctx ends or, once the source is
// exhausted, until every finalized session has been exported.
func drainUntilDone(ctx context.Context, dev *device.Device, dr *export.Drainer, pumpDone <-chan struct{}, poll time.Duration) error {
	defer dr.Close()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if _, err := dr.DrainAvailable(); err != nil {
			return err
		}

		select {
		case <-pumpDone:
			dev.Flush()
			st := dev.Status()
			if st.SessionsPending == 0 && dev.OpenCount() == 0 {
				if st.OpenSessionSize > 0 {
					logging.Component("main").Warn("input ended inside a session",
						"unterminated_bytes", st.OpenSessionSize)
				}
				return nil
			}
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
