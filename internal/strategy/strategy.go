// Package strategy decides the next action from a GameState snapshot.
// Strategies are pure deciders: they never perform I/O.
package strategy

import (
	"fmt"
	"sync"

	"github.com/haricheung/swordbot/internal/gamedata"
	"github.com/haricheung/swordbot/internal/types"
)

// Strategy picks the next action for the control loop.
type Strategy interface {
	Decide(s types.GameState) types.Action
	Name() string
	Description() string
}

// Config tunes the Heuristic strategy.
type Config struct {
	LevelThreshold   int   `yaml:"level_threshold" json:"level_threshold"` // start counting fails here
	MaxFails         int   `yaml:"max_fails" json:"max_fails"`             // sell after this many maintains
	MinGold          int64 `yaml:"min_gold" json:"min_gold"`
	MaxLevel         int   `yaml:"max_level" json:"max_level"`
	TargetLevel      int   `yaml:"target_level" json:"target_level"`
	SellOnTarget     bool  `yaml:"sell_on_target" json:"sell_on_target"` // false: stop at target instead
	ConservativeMode bool  `yaml:"conservative_mode" json:"conservative_mode"`
}

// Default is the balanced preset.
func Default() Config {
	return Config{
		LevelThreshold: 11,
		MaxFails:       2,
		MinGold:        10000,
		MaxLevel:       gamedata.MaxLevel,
		TargetLevel:    12,
		SellOnTarget:   true,
	}
}

// Aggressive aims higher and tolerates more maintains.
func Aggressive() Config {
	c := Default()
	c.LevelThreshold = 13
	c.MaxFails = 3
	c.TargetLevel = 15
	return c
}

// Conservative sells early and avoids destroy-heavy levels.
func Conservative() Config {
	c := Default()
	c.LevelThreshold = 9
	c.MaxFails = 1
	c.TargetLevel = 10
	c.ConservativeMode = true
	return c
}

// Preset returns the named preset: "default", "aggressive" or "conservative".
func Preset(name string) (Config, error) {
	switch name {
	case "", "default", "heuristic":
		return Default(), nil
	case "aggressive":
		return Aggressive(), nil
	case "conservative":
		return Conservative(), nil
	}
	return Config{}, fmt.Errorf("unknown strategy preset %q", name)
}

// Heuristic is the rule-based strategy.
//
// Expectations:
//   - Gold below MinGold or below the enhance cost: Sell when level > 0, otherwise Wait
//   - Level >= MaxLevel: Sell
//   - Level >= TargetLevel: Sell when SellOnTarget, otherwise Stop
//   - Level >= LevelThreshold with ConsecutiveFailures >= MaxFails: Sell
//   - ConservativeMode at level >= 10 with destroy rate >= 0.3 and one failure: Sell
//   - Otherwise: Enhance
type Heuristic struct {
	name string
	mu   sync.RWMutex
	cfg  Config
}

// NewHeuristic returns a Heuristic labelled name using cfg.
func NewHeuristic(name string, cfg Config) *Heuristic {
	return &Heuristic{name: name, cfg: cfg}
}

// Update replaces the configuration. Safe to call while the loop runs.
func (h *Heuristic) Update(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *Heuristic) Config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *Heuristic) Decide(s types.GameState) types.Action {
	c := h.Config()

	if s.Gold < c.MinGold || s.Gold < gamedata.Cost(s.Level) {
		if s.Level > 0 {
			return types.ActionSell
		}
		return types.ActionWait
	}
	if s.Level >= c.MaxLevel {
		return types.ActionSell
	}
	if c.TargetLevel > 0 && s.Level >= c.TargetLevel {
		if c.SellOnTarget {
			return types.ActionSell
		}
		return types.ActionStop
	}
	if s.Level >= c.LevelThreshold && s.ConsecutiveFailures >= c.MaxFails {
		return types.ActionSell
	}
	if c.ConservativeMode && s.Level >= 10 &&
		gamedata.At(s.Level).Destroy >= 0.3 && s.ConsecutiveFailures >= 1 {
		return types.ActionSell
	}
	return types.ActionEnhance
}

func (h *Heuristic) Name() string { return h.name }

func (h *Heuristic) Description() string {
	c := h.Config()
	onTarget := "sell"
	if !c.SellOnTarget {
		onTarget = "stop"
	}
	return fmt.Sprintf("%s at +%d, sell after %d fails from +%d, gold floor %d",
		onTarget, c.TargetLevel, c.MaxFails, c.LevelThreshold, c.MinGold)
}

// Once returns a given action exactly once, then Stop. Manual steps use it.
type Once struct {
	mu     sync.Mutex
	action types.Action
	done   bool
}

func NewOnce(a types.Action) *Once { return &Once{action: a} }

func (o *Once) Decide(types.GameState) types.Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return types.ActionStop
	}
	o.done = true
	return o.action
}

func (o *Once) Name() string        { return "manual" }
func (o *Once) Description() string { return fmt.Sprintf("one %s, then stop", o.action) }
