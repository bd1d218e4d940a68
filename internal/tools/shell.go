package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultShellTimeout = 10 * time.Second

// RunShell executes cmd in a bash shell with a default 10s timeout.
// Returns stdout, stderr, and any execution error.
func RunShell(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, defaultShellTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, "bash", "-c", cmd)

	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf

	err = c.Run()
	return outBuf.String(), errBuf.String(), err
}

// runShellScript adapts RunShell to the Runner signature, folding stderr
// into the error.
func runShellScript(ctx context.Context, script string) (string, error) {
	out, errOut, err := RunShell(ctx, script)
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return out, nil
}

// xdotoolUI drives the chat window through xdotool (X11 on Linux).
type xdotoolUI struct {
	app string
}

func (x xdotoolUI) name() string { return "xdotool" }

func (x xdotoolUI) paste(px, py int) string {
	return x.script(px, py, "ctrl+v", "Return")
}

func (x xdotoolUI) copy(px, py int) string {
	return x.script(px, py, "ctrl+a", "ctrl+c")
}

func (x xdotoolUI) script(px, py int, keys ...string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	if x.app != "" {
		fmt.Fprintf(&b, "xdotool search --name %s windowactivate --sync\n", shellQuote(x.app))
	}
	fmt.Fprintf(&b, "xdotool mousemove %d %d click 1\n", px, py)
	for _, k := range keys {
		b.WriteString("sleep 0.1\n")
		fmt.Fprintf(&b, "xdotool key %s\n", k)
	}
	return b.String()
}

// shellQuote single-quotes s for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
