package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haricheung/swordbot/internal/logger"
)

// Watcher reloads the configuration when one of its files changes and
// hands the validated result to onChange. Directories are watched rather
// than files so editors that save by rename are still seen.
type Watcher struct {
	files    map[string]bool
	reload   func() (*Config, error)
	onChange func(*Config)
	debounce time.Duration
	log      *logger.Logger
}

// NewWatcher watches paths. reload is normally a closure over Load with the
// process flags.
func NewWatcher(paths []string, reload func() (*Config, error), onChange func(*Config), log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Nop()
	}
	files := make(map[string]bool, len(paths))
	for _, p := range paths {
		files[filepath.Clean(p)] = true
	}
	return &Watcher{
		files:    files,
		reload:   reload,
		onChange: onChange,
		debounce: 300 * time.Millisecond,
		log:      log,
	}
}

// Run blocks until ctx is done. A reload that fails to load or validate is
// logged and the previous configuration stays in effect.
//
// Expectations:
//   - Rapid saves within the debounce window produce one reload
//   - Events for other files in the same directory are ignored
//   - Returns nil on cancellation; an error only when fsnotify cannot start
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := map[string]bool{}
	for f := range w.files {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.log.Warn("[CONFIG] watch failed", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = true
		w.log.Debug("[CONFIG] watching", "dir", dir)
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			fire = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("[CONFIG] watcher error", "error", err)

		case <-fire:
			fire = nil
			w.apply()
		}
	}
}

func (w *Watcher) apply() {
	cfg, err := w.reload()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.log.Warn("[CONFIG] reload rejected", "error", err)
		return
	}
	w.log.Info("[CONFIG] reloaded", "sources", cfg.Sources)
	w.onChange(cfg)
}
