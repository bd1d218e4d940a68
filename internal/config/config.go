// Package config loads swordbot configuration.
// Values are layered (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (SWORDBOT_*)
// 3. Project config (swordbot.yaml in cwd, or $SWORDBOT_CONFIG)
// 4. Home config (~/.swordbot/config.yaml)
// 5. Defaults
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haricheung/swordbot/internal/gamedata"
	"github.com/haricheung/swordbot/internal/loop"
	"github.com/haricheung/swordbot/internal/sim"
	"github.com/haricheung/swordbot/internal/strategy"
	"github.com/haricheung/swordbot/internal/tools"
)

// Config holds all swordbot configuration.
type Config struct {
	// Mode is the log mode: "dev" or "prod".
	Mode string `yaml:"mode" json:"mode"`

	// DataDir holds the stats database, cycle logs, audit log and exports.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Driver selects the game: "desktop" (real chat window) or "sim".
	Driver string `yaml:"driver" json:"driver"`

	Loop      loop.Policy         `yaml:"loop" json:"loop"`
	Strategy  StrategySection     `yaml:"strategy" json:"strategy"`
	Desktop   tools.DesktopConfig `yaml:"desktop" json:"desktop"`
	Sim       SimSection          `yaml:"sim" json:"sim"`
	StatusAPI StatusAPIConfig     `yaml:"status_api" json:"status_api"`

	// Sources lists the files that contributed, in load order.
	Sources []string `yaml:"-" json:"sources,omitempty"`
}

// StrategySection picks a preset and overrides individual knobs on top of it.
type StrategySection struct {
	Preset          string `yaml:"preset" json:"preset"`
	strategy.Config `yaml:",inline"`
}

// SimSection configures the in-process simulator used by --driver sim.
type SimSection struct {
	Seed            uint64 `yaml:"seed" json:"seed"`
	Player          string `yaml:"player" json:"player"`
	Level           int    `yaml:"level" json:"level"`
	Gold            int64  `yaml:"gold" json:"gold"`
	ReplyAfterReads int    `yaml:"reply_after_reads" json:"reply_after_reads"`
	ReadFailEvery   int    `yaml:"read_fail_every" json:"read_fail_every"`
	SendFailEvery   int    `yaml:"send_fail_every" json:"send_fail_every"`
	EmptyReadEvery  int    `yaml:"empty_read_every" json:"empty_read_every"`
}

// Game returns the simulator config speaking the loop's commands.
func (s SimSection) Game(cmds loop.Commands) sim.Config {
	return sim.Config{
		Seed:   s.Seed,
		Player: s.Player,
		Level:  s.Level,
		Gold:   s.Gold,
		Commands: sim.Commands{
			Enhance: cmds.Enhance,
			Sell:    cmds.Sell,
			Profile: cmds.Profile,
		},
		ReplyAfterReads: s.ReplyAfterReads,
		ReadFailEvery:   s.ReadFailEvery,
		SendFailEvery:   s.SendFailEvery,
		EmptyReadEvery:  s.EmptyReadEvery,
	}
}

// StatusAPIConfig controls the local HTTP status API.
type StatusAPIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// Flags are the command-line overrides. Empty strings mean "not set".
type Flags struct {
	ConfigPath string
	Mode       string
	DataDir    string
	Driver     string
	Strategy   string
	Backend    string
	StatusAddr string
}

const (
	DriverDesktop = "desktop"
	DriverSim     = "sim"

	defaultStatusAddr = "127.0.0.1:8765"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Mode:     "dev",
		DataDir:  tools.DataDir(),
		Driver:   DriverDesktop,
		Loop:     loop.DefaultPolicy(),
		Strategy: StrategySection{Preset: "default", Config: strategy.Default()},
		Desktop:  tools.DefaultDesktopConfig(),
		Sim: SimSection{
			Seed:   1,
			Player: "tester",
			Gold:   1_000_000,
		},
		StatusAPI: StatusAPIConfig{Addr: defaultStatusAddr},
	}
}

// Load builds the configuration with proper precedence.
// A missing file is skipped; a malformed one is an error.
func Load(f Flags) (*Config, error) {
	cfg := Default()

	for _, path := range Paths(f) {
		ok, err := overlayFile(cfg, path)
		if err != nil {
			return nil, err
		}
		if ok {
			cfg.Sources = append(cfg.Sources, path)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, f); err != nil {
		return nil, err
	}
	cfg.DataDir = tools.ExpandHome(cfg.DataDir)
	return cfg, nil
}

// Paths returns the config files Load reads, lowest priority first.
func Paths(f Flags) []string {
	var paths []string
	if p := homeConfigPath(); p != "" {
		paths = append(paths, p)
	}
	if p := projectConfigPath(f); p != "" {
		paths = append(paths, p)
	}
	return paths
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".swordbot", "config.yaml")
}

func projectConfigPath(f Flags) string {
	if f.ConfigPath != "" {
		return tools.ExpandHome(f.ConfigPath)
	}
	if override := strings.TrimSpace(os.Getenv("SWORDBOT_CONFIG")); override != "" {
		return tools.ExpandHome(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, "swordbot.yaml")
}

// overlayFile decodes path on top of cfg. Only keys present in the file
// change. A strategy preset named in the file is applied first so the
// file's own strategy keys still win over it.
func overlayFile(cfg *Config, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := overlay(cfg, data); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}

func overlay(cfg *Config, data []byte) error {
	var pre struct {
		Strategy struct {
			Preset string `yaml:"preset"`
		} `yaml:"strategy"`
	}
	if err := yaml.Unmarshal(data, &pre); err != nil {
		return err
	}
	if pre.Strategy.Preset != "" {
		if err := cfg.usePreset(pre.Strategy.Preset); err != nil {
			return err
		}
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) usePreset(name string) error {
	sc, err := strategy.Preset(name)
	if err != nil {
		return err
	}
	c.Strategy.Preset = name
	c.Strategy.Config = sc
	return nil
}

// applyEnv applies SWORDBOT_* overrides. Unparseable numbers are errors.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("SWORDBOT_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("SWORDBOT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SWORDBOT_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("SWORDBOT_STRATEGY"); v != "" {
		if err := cfg.usePreset(v); err != nil {
			return fmt.Errorf("SWORDBOT_STRATEGY: %w", err)
		}
	}
	if v := os.Getenv("SWORDBOT_BACKEND"); v != "" {
		cfg.Desktop.Backend = v
	}
	if v := os.Getenv("SWORDBOT_APP"); v != "" {
		cfg.Desktop.App = v
	}
	if v := os.Getenv("SWORDBOT_STATUS_ADDR"); v != "" {
		cfg.StatusAPI.Enabled = true
		cfg.StatusAPI.Addr = v
	}
	if v := os.Getenv("SWORDBOT_MIN_GOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SWORDBOT_MIN_GOLD: %w", err)
		}
		cfg.Loop.MinGold = n
	}
	if v := os.Getenv("SWORDBOT_ACTION_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SWORDBOT_ACTION_DELAY: %w", err)
		}
		cfg.Loop.ActionDelay = d
	}
	if v := os.Getenv("SWORDBOT_SIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SWORDBOT_SIM_SEED: %w", err)
		}
		cfg.Sim.Seed = n
	}
	return nil
}

func applyFlags(cfg *Config, f Flags) error {
	mergeStr(&cfg.Mode, f.Mode)
	mergeStr(&cfg.DataDir, f.DataDir)
	mergeStr(&cfg.Driver, f.Driver)
	mergeStr(&cfg.Desktop.Backend, f.Backend)
	if f.StatusAddr != "" {
		cfg.StatusAPI.Enabled = true
		cfg.StatusAPI.Addr = f.StatusAddr
	}
	if f.Strategy != "" {
		return cfg.usePreset(f.Strategy)
	}
	return nil
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// Validate reports every unusable setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Mode {
	case "dev", "prod":
	default:
		add("mode %q: want dev or prod", c.Mode)
	}
	switch c.Driver {
	case DriverSim:
	case DriverDesktop:
		if b := c.Desktop.Backend; b != "applescript" && b != "xdotool" {
			add("desktop.backend %q: want applescript or xdotool", b)
		}
	default:
		add("driver %q: want desktop or sim", c.Driver)
	}
	if c.DataDir == "" {
		add("data_dir is empty")
	}

	p := c.Loop
	if p.ActionDelay < 0 || p.ProfileDelay < 0 {
		add("loop delays must not be negative")
	}
	if p.Timing.SettleDelay < 0 || p.Timing.RetryDelay < 0 || p.Timing.StaleDelay < 0 {
		add("loop.timing delays must not be negative")
	}
	if p.MaxConsecutiveErrors < 1 {
		add("loop.max_consecutive_errors %d: want at least 1", p.MaxConsecutiveErrors)
	}
	if p.Ladder.MaxAttempts < 1 {
		add("loop.ladder.max_attempts %d: want at least 1", p.Ladder.MaxAttempts)
	}
	if p.MinGold < 0 {
		add("loop.min_gold %d: must not be negative", p.MinGold)
	}
	if p.Commands.Enhance == "" || p.Commands.Sell == "" || p.Commands.Profile == "" {
		add("loop.commands: enhance, sell and profile are required")
	}

	s := c.Strategy.Config
	if s.MaxLevel < 1 || s.MaxLevel > gamedata.MaxLevel {
		add("strategy.max_level %d: want 1..%d", s.MaxLevel, gamedata.MaxLevel)
	}
	if s.TargetLevel < 0 || s.TargetLevel > gamedata.MaxLevel {
		add("strategy.target_level %d: want 0..%d", s.TargetLevel, gamedata.MaxLevel)
	}
	if s.MaxFails < 0 {
		add("strategy.max_fails %d: must not be negative", s.MaxFails)
	}

	if c.StatusAPI.Enabled {
		if err := loopbackAddr(c.StatusAPI.Addr); err != nil {
			add("status_api.addr: %v", err)
		}
	}
	return errors.Join(errs...)
}

// loopbackAddr accepts host:port only when host is a loopback name or IP.
func loopbackAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("%q is not a loopback address", addr)
}
