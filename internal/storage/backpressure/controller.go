// Package backpressure classifies memory pressure on the backing store.
//
// The producer never waits, so pressure cannot slow ingestion down. The
// controller instead turns page-budget usage into a level that the worker
// logs on change and the status report exposes, giving operators warning
// before allocation failures start dropping bytes.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/nibbled/internal/storage/config"
)

// Level represents the current pressure level.
type Level int

const (
	// LevelNormal - store well within its budget.
	LevelNormal Level = iota

	// LevelWarning - store is filling; readers are falling behind.
	LevelWarning

	// LevelCritical - store close to its budget.
	LevelCritical

	// LevelEmergency - next allocations are likely to fail and drop bytes.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Gauge reports a usage ratio between 0.0 and 1.0.
type Gauge interface {
	UsageRatio() float64
}

// GaugeFunc adapts a function to Gauge.
type GaugeFunc func() float64

// UsageRatio implements Gauge.
func (f GaugeFunc) UsageRatio() float64 { return f() }

// Controller turns gauge readings into a pressure level. Entering a level
// needs its threshold; leaving it needs usage to fall Hysteresis below it,
// one level per check.
type Controller struct {
	mu sync.Mutex

	cfg   config.BackpressureConfig
	gauge Gauge

	level     atomic.Int32
	lastCheck time.Time

	changes int64
	entered [numLevels]int64

	onLevelChange func(old, new Level)
}

const numLevels = int(LevelEmergency) + 1

// New creates a controller reading gauge.
func New(cfg config.BackpressureConfig, gauge Gauge) *Controller {
	return &Controller{
		cfg:   cfg,
		gauge: gauge,
	}
}

// SetOnLevelChange sets the callback for level changes. It runs with the
// controller locked and must not call back into it.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check reads the gauge and updates the level, at most once per cooldown.
// The ingest worker calls it after every drain pass.
func (c *Controller) Check() Level {
	if !c.cfg.Enabled || c.gauge == nil {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.cfg.Cooldown {
		return c.CurrentLevel()
	}
	c.lastCheck = now

	old := c.CurrentLevel()
	next := c.next(old, c.gauge.UsageRatio())
	if next == old {
		return old
	}

	c.level.Store(int32(next))
	c.changes++
	c.entered[next]++
	if c.onLevelChange != nil {
		c.onLevelChange(old, next)
	}
	return next
}

// thresholds returns the usage at which each level is entered.
func (c *Controller) thresholds() [numLevels]float64 {
	t := c.cfg.Thresholds
	return [numLevels]float64{0, t.Warning, t.Critical, t.Emergency}
}

func (c *Controller) next(cur Level, usage float64) Level {
	enter := c.thresholds()

	target := LevelNormal
	for l := LevelEmergency; l > LevelNormal; l-- {
		if usage >= enter[l] {
			target = l
			break
		}
	}

	if target >= cur {
		return target
	}
	if usage < enter[cur]-c.cfg.Hysteresis {
		return cur - 1
	}
	return cur
}

// CurrentLevel returns the current level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	Usage          float64
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.changes,
		WarningCount:   c.entered[LevelWarning],
		CriticalCount:  c.entered[LevelCritical],
		EmergencyCount: c.entered[LevelEmergency],
	}
	if c.gauge != nil {
		st.Usage = c.gauge.UsageRatio()
	}
	return st
}

// IsEnabled returns whether pressure tracking is enabled.
func (c *Controller) IsEnabled() bool {
	return c.cfg.Enabled
}
