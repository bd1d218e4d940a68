package tools

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the bot's data directory: stats database, cycle logs,
// audit log and session exports all live here.
// Reads $SWORDBOT_DATA_DIR; defaults to ~/.swordbot.
func DataDir() string {
	if env := os.Getenv("SWORDBOT_DATA_DIR"); env != "" {
		return ExpandHome(env)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".swordbot")
}

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ExpandHome replaces a leading "~/" or a bare "~" with the user's home directory.
//
// Expectations:
//   - Expands "~/foo" to "<home>/foo"
//   - Expands bare "~" to "<home>"
//   - Returns path unchanged when it does not start with "~"
func ExpandHome(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DataPath places a relative name under dir. Absolute and "~" paths are
// returned expanded but otherwise unchanged, so config values may point
// anywhere.
//
// Expectations:
//   - "stats.db" → "<dir>/stats.db"
//   - "logs/cycles" → "<dir>/logs/cycles"
//   - "/var/lib/x" → unchanged
//   - "~/x" → "<home>/x"
func DataPath(dir, name string) string {
	name = ExpandHome(name)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, filepath.Clean(name))
}
