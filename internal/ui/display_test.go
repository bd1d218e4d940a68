package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/swordbot/internal/bus"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/types"
)

// --- OutcomeLine ---

func TestOutcomeLine_Success(t *testing.T) {
	// A success shows the green marker, the level change and grouped gold
	ev := types.OutcomeEvent{
		Cycle: 12, Action: types.ActionEnhance, PreLevel: 5, Attempts: 1, Source: "reading",
		Outcome: types.Outcome{Kind: types.KindSuccess},
		State:   types.GameState{Level: 6, Gold: 1234567},
	}
	got := OutcomeLine(ev)
	for _, want := range []string{"🟢", "#12", "성공", "+5 → +6", "1,234,567G"} {
		if !strings.Contains(got, want) {
			t.Errorf("OutcomeLine = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "[") {
		t.Errorf("clean outcome should carry no notes: %q", got)
	}
}

func TestOutcomeLine_NotesForRepairAndProfile(t *testing.T) {
	// Repaired, profile-resolved and multi-read cycles are annotated
	ev := types.OutcomeEvent{
		Cycle: 3, Action: types.ActionEnhance, PreLevel: 9, Attempts: 4, Offset: -70,
		Source: "profile", Repair: "maintain→success",
		Outcome: types.Outcome{Kind: types.KindSuccess},
		State:   types.GameState{Level: 10},
	}
	got := OutcomeLine(ev)
	for _, want := range []string{"via profile", "repaired maintain→success", "4 reads, offset -70"} {
		if !strings.Contains(got, want) {
			t.Errorf("OutcomeLine = %q, missing %q", got, want)
		}
	}
}

func TestOutcomeLine_SellShowsEarnings(t *testing.T) {
	// A sell line names the sale and the gold earned
	ev := types.OutcomeEvent{
		Cycle: 4, Action: types.ActionSell, PreLevel: 10,
		Outcome: types.Outcome{Kind: types.KindSell, GoldEarned: types.Int64Ptr(60000)},
		State:   types.GameState{Level: 0, Gold: 61000},
	}
	got := OutcomeLine(ev)
	if !strings.HasPrefix(got, "💰") || !strings.Contains(got, "판매") || !strings.Contains(got, "(+60,000G)") {
		t.Errorf("OutcomeLine = %q", got)
	}
}

func TestEmoji_UnknownFallsBack(t *testing.T) {
	// Unrecognised kinds render the white marker
	if got := Emoji("weird"); got != "⚪" {
		t.Errorf("Emoji = %q", got)
	}
	if got := Emoji(types.KindDestroy); got != "🔴" {
		t.Errorf("Emoji(destroy) = %q", got)
	}
}

// --- Status / Error lines ---

func TestStatusLine_IncludesReason(t *testing.T) {
	// The reason is appended in parentheses
	got := StatusLine(types.StatusEvent{From: types.StatusRunning, To: types.StatusStopped, Reason: "strategy stop"})
	if got != "● running → stopped (strategy stop)" {
		t.Errorf("StatusLine = %q", got)
	}
}

func TestErrorLine_FatalIcon(t *testing.T) {
	// Fatal errors get the cross; the consecutive count is shown
	got := ErrorLine(types.ErrorEvent{Cycle: 8, Kind: types.ErrKindFatal, Message: "send failed", Consecutive: 5})
	if !strings.HasPrefix(got, "❌") || !strings.Contains(got, "(5 in a row)") {
		t.Errorf("ErrorLine = %q", got)
	}
}

// --- RenderStats ---

func TestRenderStats_AlignsKoreanHeader(t *testing.T) {
	// Every row has the same display width despite two-column Hangul headers
	var buf bytes.Buffer
	RenderStats(&buf, []stats.LevelStats{
		{Level: 0, SuccessCount: 9, MaintainCount: 1, TotalAttempts: 10},
		{Level: 1, TotalAttempts: 0},
		{Level: 12, SuccessCount: 1, MaintainCount: 1, DestroyCount: 2, TotalAttempts: 4},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 { // header, +0, +12, total
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), buf.String())
	}
	want := runewidth.StringWidth(lines[1])
	if got := runewidth.StringWidth(lines[0]); got != want {
		t.Errorf("header width %d != row width %d", got, want)
	}
	if !strings.Contains(lines[1], "90.0%") {
		t.Errorf("row +0 = %q, want 90.0%%", lines[1])
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[3]), "합계") || !strings.Contains(lines[3], "14") {
		t.Errorf("total row = %q", lines[3])
	}
}

func TestRenderStats_Empty(t *testing.T) {
	// No attempts prints a placeholder after the header
	var buf bytes.Buffer
	RenderStats(&buf, nil)
	if !strings.Contains(buf.String(), "no attempts") {
		t.Errorf("got %q", buf.String())
	}
}

// --- helpers ---

func TestGold_Groups(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"}
	for n, want := range cases {
		if got := Gold(n); got != want {
			t.Errorf("Gold(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestClipCols_TruncatesHangulByColumns(t *testing.T) {
	// Hangul counts two columns; the clipped result fits the limit
	s := strings.Repeat("검", 20) // 40 columns
	got := clipCols(s, 10)
	if w := runewidth.StringWidth(got); w > 10 {
		t.Errorf("clipCols width = %d, want ≤ 10 (%q)", w, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("clipCols = %q, want trailing …", got)
	}
	if clipCols("short", 10) != "short" {
		t.Error("short string should be unchanged")
	}
}

// --- Display ---

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestDisplay_RendersBusMessages(t *testing.T) {
	// Outcome and status messages published on the bus reach the writer
	b := bus.New(nil)
	out := &syncBuffer{}
	d := New(b, out, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	b.Publish(types.Message{From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgLoopStatus,
		Payload: types.StatusEvent{From: types.StatusIdle, To: types.StatusRunning, Reason: "start"}})
	b.Publish(types.Message{From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgOutcome,
		Payload: types.OutcomeEvent{Cycle: 1, Action: types.ActionEnhance, Outcome: types.Outcome{Kind: types.KindMaintain}}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := out.String()
		if strings.Contains(s, "idle → running") && strings.Contains(s, "🟡") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	s := out.String()
	if !strings.Contains(s, "idle → running") || !strings.Contains(s, "🟡") {
		t.Errorf("output = %q", s)
	}
	if strings.Contains(s, "\033[") {
		t.Errorf("color disabled but output has ANSI codes: %q", s)
	}
}
