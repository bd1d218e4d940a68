package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haricheung/swordbot/internal/config"
)

// Global flags
var flags config.Flags

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "swordbot",
	Short: "Enhancement bot for the chat sword game",
	Long: `swordbot plays the chat sword game: it sends enhance and sell commands,
reads the bot's replies back from the chat window and keeps the item level and
gold in sync even when a reading is stale, empty or ambiguous.

Commands:
  run       Interactive console (start, pause, stop, manual steps)
  classify  Classify a captured reply and print the outcome as JSON
  stats     Print cumulative per-level statistics`,
	SilenceUsage: true,
}

func main() {
	// Load env
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "Config file (default: ./swordbot.yaml)")
	pf.StringVar(&flags.Mode, "mode", "", "Log mode (dev, prod)")
	pf.StringVar(&flags.DataDir, "data-dir", "", "Data directory (default: ~/.swordbot)")
	pf.StringVar(&flags.Driver, "driver", "", "Game driver (desktop, sim)")
	pf.StringVar(&flags.Strategy, "strategy", "", "Strategy preset (default, aggressive, conservative)")
	pf.StringVar(&flags.Backend, "backend", "", "Desktop backend (applescript, xdotool)")
	pf.StringVar(&flags.StatusAddr, "status-addr", "", "Enable the status API on this loopback address")
}

// loadConfig resolves and validates the layered configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
