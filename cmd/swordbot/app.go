package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/haricheung/swordbot/internal/bus"
	"github.com/haricheung/swordbot/internal/config"
	"github.com/haricheung/swordbot/internal/cyclelog"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/loop"
	"github.com/haricheung/swordbot/internal/reconcile"
	"github.com/haricheung/swordbot/internal/sim"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/strategy"
	"github.com/haricheung/swordbot/internal/tools"
)

// app wires one bot: game driver, loop, stats and the bus they share.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	bus   *bus.Bus
	store *stats.Store
	stats *stats.Collector
	loop  *loop.Loop

	mu    sync.Mutex
	strat *strategy.Heuristic
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	dir := cfg.DataDir
	if err := tools.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	game, err := newGame(cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := stats.Open(filepath.Join(dir, "stats.db"), log)
	if err != nil {
		return nil, err
	}

	b := bus.New(log)
	col := stats.NewCollector(store, log, nil)
	strat := strategy.NewHeuristic(cfg.Strategy.Preset, cfg.Strategy.Config)
	l := loop.New(game, strat, b,
		loop.WithLogger(log),
		loop.WithPolicy(cfg.Loop),
		loop.WithStats(col),
		loop.WithReconciler(reconcile.New(log)),
		loop.WithCycleLogs(cyclelog.NewRegistry(filepath.Join(dir, "cycles"), log)),
		loop.WithExportDir(filepath.Join(dir, "sessions")),
	)
	log.Info("[MAIN] ready", "driver", cfg.Driver, "strategy", strat.Name(), "data_dir", dir)
	return &app{cfg: cfg, log: log, bus: b, store: store, stats: col, loop: l, strat: strat}, nil
}

func newGame(cfg *config.Config, log *logger.Logger) (loop.Game, error) {
	switch cfg.Driver {
	case config.DriverSim:
		return sim.New(cfg.Sim.Game(cfg.Loop.Commands), log), nil
	case config.DriverDesktop:
		return tools.NewDesktop(cfg.Desktop, log)
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// applyConfig pushes a reloaded configuration into the running loop. The
// driver and data dir are fixed for the life of the process.
func (a *app) applyConfig(cfg *config.Config) {
	a.loop.UpdatePolicy(cfg.Loop)
	if err := a.useStrategy(cfg.Strategy.Preset, &cfg.Strategy.Config); err != nil {
		a.log.Warn("[MAIN] strategy reload failed", "error", err)
	}
}

// useStrategy switches to preset. knobs, when non-nil, replace the preset's
// values. The same preset only updates the knobs in place.
func (a *app) useStrategy(preset string, knobs *strategy.Config) error {
	cfg, err := strategy.Preset(preset)
	if err != nil {
		return err
	}
	if knobs != nil {
		cfg = *knobs
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.strat.Name() == preset {
		a.strat.Update(cfg)
		return nil
	}
	a.strat = strategy.NewHeuristic(preset, cfg)
	a.loop.SetStrategy(a.strat)
	return nil
}
