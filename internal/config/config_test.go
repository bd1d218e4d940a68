package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/swordbot/internal/loop"
)

// isolate points HOME at a temp dir and clears every SWORDBOT_* variable.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"SWORDBOT_CONFIG", "SWORDBOT_MODE", "SWORDBOT_DATA_DIR", "SWORDBOT_DRIVER",
		"SWORDBOT_STRATEGY", "SWORDBOT_BACKEND", "SWORDBOT_APP", "SWORDBOT_STATUS_ADDR",
		"SWORDBOT_MIN_GOLD", "SWORDBOT_ACTION_DELAY", "SWORDBOT_SIM_SEED",
	} {
		t.Setenv(k, "")
	}
	return home
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// ── Default / Load ───────────────────────────────────────────────────────────

func TestDefault_IsValid(t *testing.T) {
	// The defaults pass validation without any file
	isolate(t)
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverDesktop, cfg.Driver)
	assert.Equal(t, 700*time.Millisecond, cfg.Loop.ActionDelay)
	assert.Equal(t, 12, cfg.Strategy.TargetLevel)
	assert.False(t, cfg.StatusAPI.Enabled)
}

func TestLoad_ProjectOverridesHome(t *testing.T) {
	// Keys in the project file win; keys only in the home file survive
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".swordbot", "config.yaml"), `
driver: sim
loop:
  action_delay: 2s
  min_gold: 5000
`)
	project := filepath.Join(t.TempDir(), "swordbot.yaml")
	writeFile(t, project, `
loop:
  action_delay: 500ms
  timing:
    stale_delay: 1s
`)

	cfg, err := Load(Flags{ConfigPath: project})
	require.NoError(t, err)
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Loop.ActionDelay)
	assert.Equal(t, int64(5000), cfg.Loop.MinGold)
	assert.Equal(t, time.Second, cfg.Loop.Timing.StaleDelay)
	assert.Equal(t, 1200*time.Millisecond, cfg.Loop.Timing.SettleDelay, "untouched keys keep defaults")
	assert.Len(t, cfg.Sources, 2)
}

func TestLoad_PresetThenFileKeys(t *testing.T) {
	// A preset named in the file applies first; the file's own strategy keys override it
	isolate(t)
	project := filepath.Join(t.TempDir(), "swordbot.yaml")
	writeFile(t, project, `
strategy:
  preset: aggressive
  max_fails: 5
`)
	cfg, err := Load(Flags{ConfigPath: project})
	require.NoError(t, err)
	assert.Equal(t, "aggressive", cfg.Strategy.Preset)
	assert.Equal(t, 15, cfg.Strategy.TargetLevel)
	assert.Equal(t, 5, cfg.Strategy.MaxFails)
}

func TestLoad_EnvThenFlags(t *testing.T) {
	// Environment beats files, flags beat environment
	isolate(t)
	project := filepath.Join(t.TempDir(), "swordbot.yaml")
	writeFile(t, project, "driver: desktop\nmode: prod\n")
	t.Setenv("SWORDBOT_DRIVER", "sim")
	t.Setenv("SWORDBOT_MIN_GOLD", "2500")
	t.Setenv("SWORDBOT_ACTION_DELAY", "1s")

	cfg, err := Load(Flags{ConfigPath: project, Mode: "dev", Strategy: "conservative"})
	require.NoError(t, err)
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, int64(2500), cfg.Loop.MinGold)
	assert.Equal(t, time.Second, cfg.Loop.ActionDelay)
	assert.True(t, cfg.Strategy.ConservativeMode)
}

func TestLoad_StatusAddrEnablesAPI(t *testing.T) {
	// Setting an address from the environment turns the API on
	isolate(t)
	t.Setenv("SWORDBOT_STATUS_ADDR", "127.0.0.1:9999")
	cfg, err := Load(Flags{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	require.NoError(t, err)
	assert.True(t, cfg.StatusAPI.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.StatusAPI.Addr)
	assert.Empty(t, cfg.Sources)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	// An unparseable numeric variable is an error, not silently ignored
	isolate(t)
	t.Setenv("SWORDBOT_MIN_GOLD", "lots")
	_, err := Load(Flags{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWORDBOT_MIN_GOLD")
}

func TestLoad_MalformedFileNamesPath(t *testing.T) {
	// YAML errors mention the offending file
	isolate(t)
	project := filepath.Join(t.TempDir(), "swordbot.yaml")
	writeFile(t, project, "loop: [unclosed\n")
	_, err := Load(Flags{ConfigPath: project})
	require.Error(t, err)
	assert.Contains(t, err.Error(), project)
}

func TestLoad_UnknownPreset(t *testing.T) {
	// An unknown preset from a flag is rejected
	isolate(t)
	_, err := Load(Flags{ConfigPath: filepath.Join(t.TempDir(), "none.yaml"), Strategy: "yolo"})
	assert.Error(t, err)
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_ReportsEveryProblem(t *testing.T) {
	// All problems are joined into one error
	isolate(t)
	cfg := Default()
	cfg.Mode = "loud"
	cfg.Driver = "telepathy"
	cfg.Loop.MaxConsecutiveErrors = 0
	cfg.Strategy.TargetLevel = 99
	cfg.StatusAPI.Enabled = true
	cfg.StatusAPI.Addr = "0.0.0.0:8765"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mode", "driver", "max_consecutive_errors", "target_level", "loopback"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_DesktopBackend(t *testing.T) {
	// The desktop driver needs a known backend; the sim driver ignores it
	isolate(t)
	cfg := Default()
	cfg.Desktop.Backend = "winapi"
	assert.Error(t, cfg.Validate())
	cfg.Driver = DriverSim
	assert.NoError(t, cfg.Validate())
}

func TestLoopbackAddr(t *testing.T) {
	// Only loopback hosts are accepted
	assert.NoError(t, loopbackAddr("127.0.0.1:80"))
	assert.NoError(t, loopbackAddr("localhost:80"))
	assert.NoError(t, loopbackAddr("[::1]:80"))
	assert.Error(t, loopbackAddr("192.168.1.2:80"))
	assert.Error(t, loopbackAddr(":80"))
	assert.Error(t, loopbackAddr("127.0.0.1"))
}

func TestSimSection_GameUsesLoopCommands(t *testing.T) {
	// The simulator answers the same commands the loop sends
	s := SimSection{Seed: 7, Level: 3, Gold: 900}
	g := s.Game(loop.Commands{Enhance: "!e", Sell: "!s", Profile: "!p"})
	assert.Equal(t, uint64(7), g.Seed)
	assert.Equal(t, "!e", g.Commands.Enhance)
	assert.Equal(t, "!p", g.Commands.Profile)
	assert.Equal(t, int64(900), g.Gold)
}

// ── Watcher ──────────────────────────────────────────────────────────────────

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	// Writing the watched file delivers the reloaded config
	isolate(t)
	project := filepath.Join(t.TempDir(), "swordbot.yaml")
	writeFile(t, project, "loop:\n  min_gold: 1\n")

	got := make(chan *Config, 4)
	w := NewWatcher([]string{project},
		func() (*Config, error) { return Load(Flags{ConfigPath: project}) },
		func(c *Config) { got <- c },
		nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Rewrite until the watcher is registered and reports.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	var cfg *Config
	for cfg == nil {
		select {
		case cfg = <-got:
		case <-tick.C:
			writeFile(t, project, "loop:\n  min_gold: 4242\n")
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
	assert.Equal(t, int64(4242), cfg.Loop.MinGold)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_InvalidReloadKeepsOld(t *testing.T) {
	// A reload that fails validation never reaches onChange
	isolate(t)
	called := false
	w := NewWatcher(nil,
		func() (*Config, error) {
			c := Default()
			c.Driver = "nope"
			return c, nil
		},
		func(*Config) { called = true },
		nil)
	w.apply()
	assert.False(t, called)
}
