package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RunAppleScript executes an AppleScript via osascript and returns stdout.
// The script is passed via stdin so it can contain arbitrary quoting without
// shell escaping issues.
func RunAppleScript(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-")
	cmd.Stdin = strings.NewReader(script)

	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", &AppleScriptError{Stderr: strings.TrimSpace(string(ee.Stderr)), Err: err}
		}
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// AppleScriptError wraps an osascript failure with the error output.
// The usual cause is missing Accessibility permission for System Events.
type AppleScriptError struct {
	Stderr string
	Err    error
}

func (e *AppleScriptError) Error() string {
	if e.Stderr != "" {
		return "osascript: " + e.Stderr
	}
	return e.Err.Error()
}

func (e *AppleScriptError) Unwrap() error { return e.Err }

// appleScriptUI drives the chat window through System Events (macOS).
type appleScriptUI struct {
	app string
}

func (a appleScriptUI) name() string { return "applescript" }

// paste clicks the input box, pastes the clipboard and sends it.
func (a appleScriptUI) paste(x, y int) string {
	return a.script(x, y,
		`keystroke "v" using command down`,
		`key code 36`,
	)
}

// copy clicks the output area, selects all and copies it.
func (a appleScriptUI) copy(x, y int) string {
	return a.script(x, y,
		`keystroke "a" using command down`,
		`keystroke "c" using command down`,
	)
}

func (a appleScriptUI) script(x, y int, keys ...string) string {
	var b strings.Builder
	app := appleScriptString(a.app)
	fmt.Fprintf(&b, "tell application %s to activate\n", app)
	b.WriteString("delay 0.1\n")
	b.WriteString("tell application \"System Events\"\n")
	fmt.Fprintf(&b, "\ttell process %s to click at {%d, %d}\n", app, x, y)
	for _, k := range keys {
		b.WriteString("\tdelay 0.1\n")
		b.WriteString("\t" + k + "\n")
	}
	b.WriteString("end tell\n")
	return b.String()
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
