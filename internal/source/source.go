// Package source produces the nibble stream that drives the device, standing
// in for the hardware trigger.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/xtxerr/nibbled/internal/errors"
	"github.com/xtxerr/nibbled/internal/storage/config"
)

// Source yields one 4-bit value per trigger. io.EOF ends the stream.
type Source interface {
	NextNibble() (byte, error)
}

// ByteSource splits the bytes of an io.Reader into nibbles, high first.
type ByteSource struct {
	r      *bufio.Reader
	low    byte
	hasLow bool
}

// NewByteSource creates a source over r.
func NewByteSource(r io.Reader) *ByteSource {
	return &ByteSource{r: bufio.NewReader(r)}
}

// NextNibble implements Source.
func (s *ByteSource) NextNibble() (byte, error) {
	if s.hasLow {
		s.hasLow = false
		return s.low, nil
	}

	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}

	s.low = b & 0x0f
	s.hasLow = true
	return b >> 4, nil
}

// Random emits sessions of random non-sentinel bytes, each followed by the
// sentinel. Run lengths are uniform in [1, maxRun].
type Random struct {
	rng      *rand.Rand
	sentinel byte
	maxRun   int
	sessions int // 0 = unlimited

	emitted int
	run     int  // bytes left in the current session
	pending byte // low nibble waiting
	hasLow  bool
}

// NewRandom creates a random source. sessions == 0 never ends.
func NewRandom(seed int64, sentinel byte, maxRun, sessions int) *Random {
	if maxRun <= 0 {
		maxRun = 1
	}
	return &Random{
		rng:      rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		sentinel: sentinel,
		maxRun:   maxRun,
		sessions: sessions,
		run:      -1,
	}
}

// NextNibble implements Source.
func (s *Random) NextNibble() (byte, error) {
	if s.hasLow {
		s.hasLow = false
		return s.pending, nil
	}

	b, err := s.nextByte()
	if err != nil {
		return 0, err
	}

	s.pending = b & 0x0f
	s.hasLow = true
	return b >> 4, nil
}

func (s *Random) nextByte() (byte, error) {
	if s.sessions > 0 && s.emitted >= s.sessions {
		return 0, io.EOF
	}

	if s.run < 0 {
		s.run = 1 + s.rng.IntN(s.maxRun)
	}

	if s.run == 0 {
		s.run = -1
		s.emitted++
		return s.sentinel, nil
	}

	s.run--
	b := byte(s.rng.IntN(256))
	for b == s.sentinel {
		b = byte(s.rng.IntN(256))
	}
	return b, nil
}

// Sessions returns how many sessions have been completed.
func (s *Random) Sessions() int {
	return s.emitted
}

// FromConfig opens the source described by cfg. The returned closer is
// never nil.
func FromConfig(cfg config.SourceConfig, sentinel byte, stdin io.Reader) (Source, io.Closer, error) {
	switch cfg.Kind {
	case "file":
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open source %s: %w", cfg.Path, err)
		}
		return NewByteSource(f), f, nil
	case "stdin", "":
		// Closing stdin is how the daemon unblocks a pending read on shutdown.
		if c, ok := stdin.(io.Closer); ok {
			return NewByteSource(stdin), c, nil
		}
		return NewByteSource(stdin), nopCloser{}, nil
	case "random":
		return NewRandom(cfg.RandomSeed, sentinel, cfg.RandomMaxRun, cfg.RandomSessions), nopCloser{}, nil
	default:
		return nil, nil, errors.NewInvalidArgument("source.kind", cfg.Kind, "unknown source")
	}
}

// Pump calls sink once per nibble until src ends or ctx is cancelled. A
// positive interval paces the triggers. It returns the number of nibbles
// delivered; the end of the source is not an error.
func Pump(ctx context.Context, src Source, sink func(byte), interval time.Duration) (int64, error) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var count int64
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return count, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return count, err
		}

		n, err := src.NextNibble()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("next nibble: %w", err)
		}

		sink(n)
		count++
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
