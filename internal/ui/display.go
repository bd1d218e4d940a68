package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/swordbot/internal/bus"
	"github.com/haricheung/swordbot/internal/gamedata"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiCyan   = "\033[36m"
)

var kindEmoji = map[types.OutcomeKind]string{
	types.KindSuccess:  "🟢",
	types.KindMaintain: "🟡",
	types.KindDestroy:  "🔴",
	types.KindSell:     "💰",
	types.KindUnknown:  "⚪",
}

var kindName = map[types.OutcomeKind]string{
	types.KindSuccess:  "성공",
	types.KindMaintain: "유지",
	types.KindDestroy:  "파괴",
	types.KindSell:     "판매",
	types.KindUnknown:  "알 수 없음",
}

var kindColor = map[types.OutcomeKind]string{
	types.KindSuccess:  ansiGreen,
	types.KindMaintain: ansiYellow,
	types.KindDestroy:  ansiRed,
	types.KindSell:     ansiCyan,
}

// Emoji returns the marker shown in front of an outcome line.
func Emoji(k types.OutcomeKind) string {
	if e, ok := kindEmoji[k]; ok {
		return e
	}
	return "⚪"
}

// Display prints loop notifications as they arrive on the bus.
// All writes happen on the Run goroutine.
type Display struct {
	out      io.Writer
	color    bool
	outcomes <-chan types.Message
	statuses <-chan types.Message
	errs     <-chan types.Message
	mu       sync.Mutex
}

// New subscribes to outcome, status and error messages. Pass color=false
// when out is not a terminal.
func New(b *bus.Bus, out io.Writer, color bool) *Display {
	return &Display{
		out:      out,
		color:    color,
		outcomes: b.Subscribe(types.MsgOutcome),
		statuses: b.Subscribe(types.MsgLoopStatus),
		errs:     b.Subscribe(types.MsgError),
	}
}

// Run renders until ctx is done.
func (d *Display) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.outcomes:
			var ev types.OutcomeEvent
			if remarshal(msg.Payload, &ev) == nil {
				d.print(kindColor[ev.Outcome.Kind], OutcomeLine(ev))
			}
		case msg := <-d.statuses:
			var ev types.StatusEvent
			if remarshal(msg.Payload, &ev) == nil {
				d.print(ansiDim, StatusLine(ev))
			}
		case msg := <-d.errs:
			var ev types.ErrorEvent
			if remarshal(msg.Payload, &ev) == nil {
				color := ansiYellow
				if ev.Kind == types.ErrKindFatal {
					color = ansiBold + ansiRed
				}
				d.print(color, ErrorLine(ev))
			}
		}
	}
}

func (d *Display) print(color, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.color && color != "" {
		line = color + line + ansiReset
	}
	fmt.Fprintln(d.out, line)
}

// OutcomeLine renders one committed cycle, e.g.
// "🟢 #12 강화 성공 +5 → +6 · 1,234,567G".
func OutcomeLine(ev types.OutcomeEvent) string {
	k := ev.Outcome.Kind
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d ", Emoji(k), ev.Cycle)
	if ev.Action == types.ActionSell {
		b.WriteString("판매")
	} else {
		b.WriteString("강화 " + kindName[k])
	}
	fmt.Fprintf(&b, " +%d → +%d · %sG", ev.PreLevel, ev.State.Level, Gold(ev.State.Gold))
	if ev.Outcome.GoldEarned != nil && *ev.Outcome.GoldEarned > 0 {
		fmt.Fprintf(&b, " (+%sG)", Gold(*ev.Outcome.GoldEarned))
	}
	if name := ev.State.LastItemName; name != "" {
		b.WriteString(" · " + clipCols(name, 24))
	}

	var notes []string
	if ev.Source == "profile" {
		notes = append(notes, "via profile")
	}
	if ev.Repair != "" {
		notes = append(notes, "repaired "+ev.Repair)
	}
	if ev.Attempts > 1 {
		notes = append(notes, fmt.Sprintf("%d reads, offset %d", ev.Attempts, ev.Offset))
	}
	if len(notes) > 0 {
		b.WriteString(" [" + strings.Join(notes, ", ") + "]")
	}
	return b.String()
}

func StatusLine(ev types.StatusEvent) string {
	s := fmt.Sprintf("● %s → %s", ev.From, ev.To)
	if ev.Reason != "" {
		s += " (" + ev.Reason + ")"
	}
	return s
}

func ErrorLine(ev types.ErrorEvent) string {
	icon := "⚠️ "
	if ev.Kind == types.ErrKindFatal {
		icon = "❌"
	}
	s := fmt.Sprintf("%s #%d %s: %s", icon, ev.Cycle, ev.Kind, clipCols(ev.Message, 70))
	if ev.Consecutive > 0 {
		s += fmt.Sprintf(" (%d in a row)", ev.Consecutive)
	}
	return s
}

// RenderState prints the current item, wallet and loop status.
func RenderState(w io.Writer, st types.GameState, status types.LoopStatus) {
	name := st.LastItemName
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(w, "status   %s\n", status)
	fmt.Fprintf(w, "item     +%d %s\n", st.Level, clipCols(name, 30))
	fmt.Fprintf(w, "gold     %sG\n", Gold(st.Gold))
	fmt.Fprintf(w, "fails    %d\n", st.ConsecutiveFailures)
	if st.LastOutcome != "" {
		fmt.Fprintf(w, "last     %s %s\n", Emoji(st.LastOutcome), kindName[st.LastOutcome])
	}
}

// RenderStats prints a per-level table of observed rates next to the
// published ones. Levels without attempts are skipped.
func RenderStats(w io.Writer, levels []stats.LevelStats) {
	header := []string{"강화", "시도", kindName[types.KindSuccess], kindName[types.KindMaintain], kindName[types.KindDestroy], "성공률", "기대"}
	widths := []int{6, 6, 6, 6, 6, 8, 8}
	row := func(cells ...string) {
		var b strings.Builder
		for i, c := range cells {
			b.WriteString(runewidth.FillLeft(c, widths[i]))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	row(header...)
	total := stats.LevelStats{}
	for _, l := range levels {
		if l.TotalAttempts == 0 {
			continue
		}
		total.Add(l)
		row(
			"+"+strconv.Itoa(l.Level),
			strconv.Itoa(l.TotalAttempts),
			strconv.Itoa(l.SuccessCount),
			strconv.Itoa(l.MaintainCount),
			strconv.Itoa(l.DestroyCount),
			percent(l.SuccessRate()),
			percent(gamedata.At(l.Level).Success),
		)
	}
	if total.TotalAttempts == 0 {
		fmt.Fprintln(w, "(no attempts recorded)")
		return
	}
	row("합계",
		strconv.Itoa(total.TotalAttempts),
		strconv.Itoa(total.SuccessCount),
		strconv.Itoa(total.MaintainCount),
		strconv.Itoa(total.DestroyCount),
		percent(total.SuccessRate()),
		"",
	)
}

// RenderSession prints the headline numbers of a session summary.
func RenderSession(w io.Writer, s stats.Summary) {
	fmt.Fprintf(w, "session  %s (%.1f min)\n", s.ID, s.DurationMinutes)
	fmt.Fprintf(w, "enhance  %d (success %s)  sell %d  max +%d\n",
		s.TotalEnhances, percent(s.TotalSuccessRate), s.TotalSells, s.MaxLevelReached)
	fmt.Fprintf(w, "gold     %sG → %sG  profit %sG  ROI %.1f%%\n",
		Gold(s.StartingGold), Gold(s.CurrentGold), Gold(s.Profit), s.ROIPercent)
}

// Gold formats n with thousands separators.
func Gold(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func percent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}

// clipCols truncates s to at most cols terminal columns, appending "…"
// if trimmed. Hangul and CJK count as two columns.
func clipCols(s string, cols int) string {
	if runewidth.StringWidth(s) <= cols {
		return s
	}
	return runewidth.Truncate(s, cols, "…")
}

func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
