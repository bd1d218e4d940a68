package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haricheung/swordbot/internal/auditor"
	"github.com/haricheung/swordbot/internal/config"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/loop"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/statusapi"
	"github.com/haricheung/swordbot/internal/tools"
	"github.com/haricheung/swordbot/internal/types"
	"github.com/haricheung/swordbot/internal/ui"
)

const stopTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Interactive console",
	Long: `Open the interactive console. The loop does not start until "start".

Logs go to <data-dir>/swordbot.log; the audit trail to <data-dir>/audit.jsonl;
per-session reading traces to <data-dir>/cycles/.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

const consoleHelp = `commands:
  start              run the loop with the current strategy
  pause | resume     hold / release the loop between cycles
  stop               stop after the cycle in flight
  status             item, gold and loop status
  stats              per-level statistics and the open session
  enhance | sell     one manual cycle (loop must be idle)
  profile            re-read the profile and overwrite the state
  strategy [preset]  show or switch the strategy
  reset              forget the tracked state (loop must be idle)
  quit               stop everything and exit`

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := tools.EnsureDir(cfg.DataDir); err != nil {
		return err
	}
	log, err := logger.ToFile(cfg.Mode, filepath.Join(cfg.DataDir, "swordbot.log"))
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "swordbot> ",
		HistoryFile:     filepath.Join(cfg.DataDir, "history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	var closeOnce sync.Once
	closeRL := func() { closeOnce.Do(func() { rl.Close() }) }
	defer closeRL()
	out := rl.Stdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.store.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return auditor.New(a.bus.Tap(), filepath.Join(cfg.DataDir, "audit.jsonl"), log).Run(gctx)
	})
	g.Go(func() error {
		return ui.New(a.bus, out, true).Run(gctx)
	})
	g.Go(func() error {
		reload := func() (*config.Config, error) { return config.Load(flags) }
		return config.NewWatcher(config.Paths(flags), reload, a.applyConfig, log).Run(gctx)
	})
	if cfg.StatusAPI.Enabled {
		g.Go(func() error {
			return statusapi.New(cfg.StatusAPI.Addr, a.loop, a.stats, log).Run(gctx)
		})
		fmt.Fprintf(out, "status API on http://%s\n", cfg.StatusAPI.Addr)
	}
	// A failed service or a signal ends the console too.
	g.Go(func() error {
		<-gctx.Done()
		closeRL()
		return nil
	})

	fmt.Fprintf(out, "swordbot: driver=%s strategy=%s (type 'help')\n", cfg.Driver, a.loop.Strategy().Description())
	c := &console{app: a, ctx: gctx, out: out}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if c.active() {
				c.stop()
				continue
			}
			break
		}
		if err != nil {
			break
		}
		if quit := c.exec(strings.TrimSpace(line)); quit {
			break
		}
	}

	c.stop()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "swordbot: bye")
	return nil
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("start"),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("stop"),
		readline.PcItem("status"),
		readline.PcItem("stats"),
		readline.PcItem("enhance"),
		readline.PcItem("sell"),
		readline.PcItem("profile"),
		readline.PcItem("strategy",
			readline.PcItem("default"),
			readline.PcItem("aggressive"),
			readline.PcItem("conservative"),
		),
		readline.PcItem("reset"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// console executes one command line against the app.
type console struct {
	app *app
	ctx context.Context
	out io.Writer
}

func (c *console) active() bool {
	s := c.app.loop.Status()
	return s == types.StatusRunning || s == types.StatusPaused
}

// stop stops a live loop and waits for the cycle in flight.
func (c *console) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := c.app.loop.Stop(ctx); err != nil && !errors.Is(err, loop.ErrNotRunning) {
		fmt.Fprintf(c.out, "stop: %v\n", err)
	}
}

// exec runs one command and reports whether the console should exit.
func (c *console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	l := c.app.loop
	var err error

	switch fields[0] {
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "start":
		err = l.Start(c.ctx)
	case "pause":
		err = l.Pause()
	case "resume":
		err = l.Resume()
	case "stop":
		c.stop()
	case "status":
		c.status()
	case "stats":
		err = c.stats()
	case "enhance":
		_, err = l.Step(c.ctx, types.ActionEnhance)
	case "sell":
		_, err = l.Step(c.ctx, types.ActionSell)
	case "profile":
		var st types.GameState
		st, err = l.Sync(c.ctx)
		if err == nil {
			ui.RenderState(c.out, st, l.Status())
		}
	case "strategy":
		if len(fields) > 1 {
			err = c.app.useStrategy(fields[1], nil)
		}
		if err == nil {
			s := l.Strategy()
			fmt.Fprintf(c.out, "%s: %s\n", s.Name(), s.Description())
		}
	case "reset":
		err = l.Reset()
	default:
		fmt.Fprintf(c.out, "unknown command %q (type 'help')\n", fields[0])
	}
	if err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", fields[0], err)
	}
	return false
}

func (c *console) status() {
	l := c.app.loop
	ui.RenderState(c.out, l.State(), l.Status())
	if id := l.Session(); id != "" {
		fmt.Fprintf(c.out, "session  %s\n", id)
	}
	fmt.Fprintf(c.out, "strategy %s\n", l.Strategy().Description())
	if err := l.Err(); err != nil {
		fmt.Fprintf(c.out, "error    %v\n", err)
	}
}

func (c *console) stats() error {
	levels, err := c.app.stats.Cumulative()
	if err != nil {
		return err
	}
	ui.RenderStats(c.out, levels)
	if s, ok := c.app.stats.Current(); ok {
		fmt.Fprintln(c.out)
		ui.RenderSession(c.out, stats.Summarize(s, time.Now()))
	}
	return nil
}
