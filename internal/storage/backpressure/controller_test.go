package backpressure

import (
	"testing"
	"time"

	"github.com/xtxerr/nibbled/internal/storage/config"
)

type fakeGauge struct {
	usage float64
}

func (g *fakeGauge) UsageRatio() float64 { return g.usage }

func testConfig() config.BackpressureConfig {
	cfg := config.DefaultConfig().Backpressure
	cfg.Enabled = true
	cfg.Thresholds.Warning = 0.50
	cfg.Thresholds.Critical = 0.80
	cfg.Thresholds.Emergency = 0.95
	cfg.Hysteresis = 0.10
	cfg.Cooldown = 0 // Disable cooldown for testing
	return cfg
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelEmergency, "emergency"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestController_Check(t *testing.T) {
	g := &fakeGauge{}
	c := New(testConfig(), g)

	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal, got %s", level)
	}

	steps := []struct {
		usage    float64
		expected Level
	}{
		{0.50, LevelWarning},
		{0.80, LevelCritical},
		{0.95, LevelEmergency},
	}

	for _, s := range steps {
		g.usage = s.usage
		if level := c.Check(); level != s.expected {
			t.Errorf("usage %.2f: expected %s, got %s", s.usage, s.expected, level)
		}
	}
}

func TestController_Hysteresis(t *testing.T) {
	g := &fakeGauge{usage: 0.55}
	c := New(testConfig(), g)

	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning at 55%%, got %s", level)
	}

	// threshold - hysteresis = 40%
	g.usage = 0.45
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning to persist at 45%% (hysteresis), got %s", level)
	}

	g.usage = 0.35
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal at 35%%, got %s", level)
	}
}

func TestController_OnLevelChange(t *testing.T) {
	g := &fakeGauge{}
	c := New(testConfig(), g)

	var oldLevel, newLevel Level
	calls := 0
	c.SetOnLevelChange(func(old, new Level) {
		calls++
		oldLevel = old
		newLevel = new
	})

	g.usage = 0.85
	c.Check()
	c.Check()

	if calls != 1 {
		t.Errorf("expected 1 callback, got %d", calls)
	}
	if oldLevel != LevelNormal || newLevel != LevelCritical {
		t.Errorf("expected normal->critical, got %s->%s", oldLevel, newLevel)
	}

	stats := c.Stats()
	if stats.LevelChanges != 1 || stats.CriticalCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Usage != 0.85 {
		t.Errorf("expected usage 0.85, got %f", stats.Usage)
	}
}

func TestController_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, &fakeGauge{usage: 1.0})

	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal when disabled, got %s", level)
	}
	if c.IsEnabled() {
		t.Error("IsEnabled mismatch")
	}
}

func TestGaugeFunc(t *testing.T) {
	g := GaugeFunc(func() float64 { return 0.25 })
	if g.UsageRatio() != 0.25 {
		t.Errorf("expected 0.25, got %f", g.UsageRatio())
	}
}

func TestController_StepsDownOneLevelPerCheck(t *testing.T) {
	g := &fakeGauge{usage: 1.0}
	c := New(testConfig(), g)
	c.Check()

	g.usage = 0
	for _, want := range []Level{LevelCritical, LevelWarning, LevelNormal, LevelNormal} {
		if level := c.Check(); level != want {
			t.Errorf("expected %s, got %s", want, level)
		}
	}
	if st := c.Stats(); st.LevelChanges != 4 || st.EmergencyCount != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestController_Cooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	g := &fakeGauge{usage: 0.6}
	c := New(cfg, g)

	if level := c.Check(); level != LevelWarning {
		t.Fatalf("expected warning, got %s", level)
	}
	g.usage = 1.0
	if level := c.Check(); level != LevelWarning {
		t.Errorf("check inside cooldown must keep the level, got %s", level)
	}
}
