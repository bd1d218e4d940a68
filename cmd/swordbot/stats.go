package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/ui"
)

var recentSessions int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cumulative per-level statistics",
	Long: `Print the cumulative per-level statistics and the most recent finished
sessions from <data-dir>/stats.db. Fails while a bot holds the database open.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&recentSessions, "sessions", "n", 5, "Number of recent sessions to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := stats.Open(filepath.Join(cfg.DataDir, "stats.db"), logger.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	levels, err := store.Cumulative()
	if err != nil {
		return err
	}
	ui.RenderStats(out, levels)

	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	if recentSessions >= 0 && len(sessions) > recentSessions {
		sessions = sessions[len(sessions)-recentSessions:]
	}
	for _, s := range sessions {
		fmt.Fprintln(out)
		ui.RenderSession(out, s)
	}
	return nil
}
