package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/wait"
)

// Coordinates are screen positions inside the chat window.
type Coordinates struct {
	OutputX int `yaml:"chat_output_x" json:"chat_output_x"`
	OutputY int `yaml:"chat_output_y" json:"chat_output_y"`
	InputX  int `yaml:"chat_input_x" json:"chat_input_x"`
	InputY  int `yaml:"chat_input_y" json:"chat_input_y"`
}

// DesktopConfig selects the UI backend and where to click.
type DesktopConfig struct {
	Backend     string        `yaml:"backend" json:"backend"` // "applescript" | "xdotool"
	App         string        `yaml:"app" json:"app"`         // application or window name to activate
	Coordinates Coordinates   `yaml:"coordinates" json:"coordinates"`
	StepDelay   time.Duration `yaml:"step_delay" json:"step_delay"` // after each UI script, before touching the clipboard
}

func DefaultDesktopConfig() DesktopConfig {
	return DesktopConfig{
		Backend: "applescript",
		App:     "KakaoTalk",
		Coordinates: Coordinates{
			OutputX: 500, OutputY: 400,
			InputX: 500, InputY: 700,
		},
		StepDelay: 100 * time.Millisecond,
	}
}

// Clipboard is the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Runner executes one backend script.
type Runner func(ctx context.Context, script string) (string, error)

type ui interface {
	name() string
	paste(x, y int) string
	copy(x, y int) string
}

// Desktop implements the loop's game interface over a real chat window:
// commands are pasted through the clipboard, readings are copied out of it.
type Desktop struct {
	cfg   DesktopConfig
	ui    ui
	run   Runner
	clip  Clipboard
	sleep wait.SleepFunc
	log   *logger.Logger

	mu sync.Mutex // one UI script at a time; they share the clipboard
}

// DesktopOption customizes a Desktop, mainly for tests.
type DesktopOption func(*Desktop)

// WithRunner replaces the script runner (osascript or bash).
func WithRunner(r Runner) DesktopOption {
	return func(d *Desktop) { d.run = r }
}

func WithClipboard(c Clipboard) DesktopOption {
	return func(d *Desktop) { d.clip = c }
}

func WithDesktopSleep(s wait.SleepFunc) DesktopOption {
	return func(d *Desktop) { d.sleep = s }
}

// NewDesktop builds a driver for cfg.Backend.
func NewDesktop(cfg DesktopConfig, log *logger.Logger, opts ...DesktopOption) (*Desktop, error) {
	if log == nil {
		log = logger.Nop()
	}
	d := &Desktop{cfg: cfg, clip: systemClipboard{}, sleep: wait.Sleep, log: log}
	switch cfg.Backend {
	case "applescript":
		d.ui, d.run = appleScriptUI{app: cfg.App}, RunAppleScript
	case "xdotool":
		d.ui, d.run = xdotoolUI{app: cfg.App}, runShellScript
	default:
		return nil, fmt.Errorf("unknown desktop backend %q", cfg.Backend)
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SendCommand pastes cmd into the chat input and presses return. The
// previous clipboard content is restored afterwards.
func (d *Desktop) SendCommand(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	saved, _ := d.clip.ReadAll()
	if err := d.clip.WriteAll(cmd); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	c := d.cfg.Coordinates
	if _, err := d.run(ctx, d.ui.paste(c.InputX, c.InputY)); err != nil {
		return fmt.Errorf("%s paste %q: %w", d.ui.name(), cmd, err)
	}
	if err := d.sleep(ctx, d.cfg.StepDelay); err != nil {
		return err
	}
	if err := d.clip.WriteAll(saved); err != nil {
		d.log.Debug("[DESKTOP] clipboard restore failed", "error", err)
	}
	d.log.Debug("[DESKTOP] command sent", "cmd", cmd)
	return nil
}

// TakeReading clicks the output area offset pixels below the configured
// point (negative is up), copies everything and returns the clipboard.
//
// Expectations:
//   - The clipboard is cleared first so a failed copy reads as empty, not stale
//   - Script errors are returned wrapped with the backend name
func (d *Desktop) TakeReading(ctx context.Context, offset int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.clip.WriteAll(""); err != nil {
		return "", fmt.Errorf("clipboard clear: %w", err)
	}
	c := d.cfg.Coordinates
	if _, err := d.run(ctx, d.ui.copy(c.OutputX, c.OutputY+offset)); err != nil {
		return "", fmt.Errorf("%s copy at offset %d: %w", d.ui.name(), offset, err)
	}
	if err := d.sleep(ctx, d.cfg.StepDelay); err != nil {
		return "", err
	}
	text, err := d.clip.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return text, nil
}
