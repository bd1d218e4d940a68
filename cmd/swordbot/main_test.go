package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/swordbot/internal/config"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

const maintainReply = "〖💦강화 유지💦〗\n" +
	"『[+8] 영원한 혈맥의 검』의 레벨이 유지되었습니다.\n" +
	"💸 사용 골드: -20,000G\n" +
	"💰 남은 골드: 980,000G"

func classifyOutput(t *testing.T, stdin string, args ...string) classifyResult {
	t.Helper()
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	require.NoError(t, runClassify(cmd, args))

	var res classifyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

// ── classify ─────────────────────────────────────────────────────────────────

func TestClassify_Stdin(t *testing.T) {
	// A reply on stdin is classified with its fields
	res := classifyOutput(t, maintainReply)
	assert.Equal(t, types.KindMaintain, res.Outcome.Kind)
	require.NotNil(t, res.Outcome.Gold)
	assert.Equal(t, int64(980000), *res.Outcome.Gold)
	assert.Nil(t, res.Profile)
}

func TestClassify_FileWithProfile(t *testing.T) {
	// A file argument is read instead of stdin and profiles are extracted
	path := filepath.Join(t.TempDir(), "reply.txt")
	profile := "⚔️ [프로필]\n● 이름: @tester\n● 보유 골드: 5,000 G\n● 보유 검: [+3] 낡은 단검"
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	res := classifyOutput(t, "ignored", path)
	require.NotNil(t, res.Profile)
	require.NotNil(t, res.Profile.Level)
	assert.Equal(t, 3, *res.Profile.Level)
}

func TestClassify_MissingFile(t *testing.T) {
	// An unreadable file is an error
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	err := runClassify(cmd, []string{filepath.Join(t.TempDir(), "nope.txt")})
	assert.ErrorContains(t, err, "read reply")
}

// ── console ──────────────────────────────────────────────────────────────────

func newTestConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Driver = config.DriverSim
	cfg.DataDir = t.TempDir()

	a, err := newApp(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.store.Close() })

	var out bytes.Buffer
	return &console{app: a, ctx: t.Context(), out: &out}, &out
}

func TestConsole_QuitEndsSession(t *testing.T) {
	// quit and exit end the console; other commands do not
	c, _ := newTestConsole(t)
	assert.True(t, c.exec("quit"))
	assert.True(t, c.exec("exit"))
	assert.False(t, c.exec(""))
	assert.False(t, c.exec("help"))
}

func TestConsole_UnknownCommand(t *testing.T) {
	// Unknown commands are reported, not fatal
	c, out := newTestConsole(t)
	assert.False(t, c.exec("dance"))
	assert.Contains(t, out.String(), `unknown command "dance"`)
}

func TestConsole_SwitchStrategy(t *testing.T) {
	// "strategy <preset>" swaps the loop's strategy
	c, out := newTestConsole(t)
	c.exec("strategy aggressive")
	assert.Equal(t, "aggressive", c.app.loop.Strategy().Name())
	assert.Contains(t, out.String(), "aggressive: ")
}

func TestConsole_UnknownPresetKeepsStrategy(t *testing.T) {
	// An unknown preset is an error and the current strategy stays
	c, out := newTestConsole(t)
	before := c.app.loop.Strategy().Name()
	c.exec("strategy yolo")
	assert.Equal(t, before, c.app.loop.Strategy().Name())
	assert.Contains(t, out.String(), "strategy: ")
}

func TestConsole_ControlWhileIdle(t *testing.T) {
	// pause on an idle loop reports the loop's error; stop is quiet
	c, out := newTestConsole(t)
	c.exec("pause")
	assert.Contains(t, out.String(), "pause: ")

	out.Reset()
	c.exec("stop")
	assert.Empty(t, out.String())
}

func TestConsole_StatusAndStats(t *testing.T) {
	// status and stats render without a running loop
	c, out := newTestConsole(t)
	c.exec("status")
	assert.Contains(t, out.String(), "strategy ")

	out.Reset()
	c.exec("stats")
	assert.Contains(t, out.String(), "(no attempts recorded)")
}
