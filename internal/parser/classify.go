// Package parser turns raw chat text copied from the game window into typed
// outcomes and profile snapshots. Every function is pure: no I/O, no state,
// and no input makes it fail. "Nothing recognized" is a value, not an error.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/haricheung/swordbot/internal/types"
)

// Structured result markers as rendered by the current chatbot. Emoji and
// inner whitespace are optional so older template revisions still match.
var (
	reSuccess  = regexp.MustCompile(`〖\s*✨?\s*강화\s*성공\s*✨?\s*\+(\d+)\s*→\s*\+(\d+)\s*〗`)
	reMaintain = regexp.MustCompile(`〖\s*💦?\s*강화\s*유지\s*💦?\s*〗`)
	reDestroy  = regexp.MustCompile(`〖\s*💥?\s*강화\s*파괴\s*💥?\s*〗`)
	reSell     = regexp.MustCompile(`〖\s*검\s*판매\s*〗`)
)

// Field patterns, applied to the segment that belongs to the winning marker.
var (
	reGoldRemaining = regexp.MustCompile(`(?:남은\s*골드|현재\s*보유\s*골드)\s*[:\s]*([0-9,]+)\s*G`)
	reGoldSpent     = regexp.MustCompile(`사용\s*골드\s*[:\s]*-?([0-9,]+)\s*G`)
	reGoldEarned    = regexp.MustCompile(`획득\s*골드\s*[:\s]*\+?([0-9,]+)\s*G`)
	reItemAcquired  = regexp.MustCompile(`(?:획득\s*검|새로운\s*검\s*획득)\s*[:\s]*\[?\+?(\d+)\]?\s*(.+?)(?:\n|$)`)
	reItemKept      = regexp.MustCompile(`『\[?\+?(\d+)\]?\s*(.+?)』`)
	reItemGeneral   = regexp.MustCompile(`\[\+(\d+)\]\s*([^\n』]+)`)
)

// Legacy phrasing from earlier chatbot versions. Consulted only when no
// structured marker is present; destroy is checked first.
var (
	legacyDestroy = []*regexp.Regexp{
		regexp.MustCompile(`파괴`),
		regexp.MustCompile(`부서졌`),
		regexp.MustCompile(`부서`),
		regexp.MustCompile(`0강.*시작`),
	}
	legacySuccess = []*regexp.Regexp{
		regexp.MustCompile(`\+(\d+)강.*성공`),
		regexp.MustCompile(`강화.*성공.*\+(\d+)`),
	}
	legacyMaintain = []*regexp.Regexp{
		regexp.MustCompile(`실패.*유지`),
		regexp.MustCompile(`유지.*됩니다`),
		regexp.MustCompile(`레벨.*유지`),
	}
	legacyGold = regexp.MustCompile(`(\d{1,3}(?:,\d{3})*)\s*(?:골드|원|G)`)
)

// marker pairs an outcome kind with its structured pattern. The slice order
// is the tie-break order when two markers start at the same offset.
type marker struct {
	kind types.OutcomeKind
	re   *regexp.Regexp
}

var markers = []marker{
	{types.KindDestroy, reDestroy},
	{types.KindSuccess, reSuccess},
	{types.KindMaintain, reMaintain},
	{types.KindSell, reSell},
}

type hit struct {
	kind types.OutcomeKind
	loc  []int // submatch indexes into the normalized text
}

var normalizer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u00a0", " ",
	"\u200b", "",
	"\ufe0f", "",
)

func normalize(text string) string {
	return normalizer.Replace(text)
}

// Classify maps one reading to an Outcome.
//
// Expectations:
//   - Empty or unrecognized text returns KindUnknown with no fields
//   - When several structured markers are present, the one appearing last wins
//   - Fields are taken only from the winning marker's segment (up to the next marker)
//   - Success requires both "+A → +B" numbers; Level is B, PrevLevel is A
//   - Sell is reported as KindSell, never as success/maintain/destroy
//   - Destroy always reports Level 0, the level after the destroy
//   - Legacy phrasing is consulted only when no structured marker matches
//   - Numbers with thousands separators parse; unparsable numbers are left absent
func Classify(text string) types.Outcome {
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return types.Outcome{Kind: types.KindUnknown}
	}

	hits := findMarkers(text)
	if len(hits) == 0 {
		return classifyLegacy(text)
	}

	last := hits[0]
	for _, h := range hits[1:] {
		if h.loc[0] > last.loc[0] {
			last = h
		}
	}
	end := len(text)
	for _, h := range hits {
		if h.loc[0] > last.loc[0] && h.loc[0] < end {
			end = h.loc[0]
		}
	}
	seg := text[last.loc[0]:end]

	o := types.Outcome{Kind: last.kind}
	switch last.kind {
	case types.KindSuccess:
		o.PrevLevel = parseLevel(text[last.loc[2]:last.loc[3]])
		o.Level = parseLevel(text[last.loc[4]:last.loc[5]])
	case types.KindDestroy:
		o.Level = types.IntPtr(0)
	}
	extractFields(seg, &o)
	return o
}

func findMarkers(text string) []hit {
	var hits []hit
	for _, m := range markers {
		for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
			hits = append(hits, hit{kind: m.kind, loc: loc})
		}
	}
	return hits
}

// extractFields fills the optional numeric and item fields from seg.
// Each field is independent: a missing one never invalidates the others.
func extractFields(seg string, o *types.Outcome) {
	if m := reGoldRemaining.FindStringSubmatch(seg); m != nil {
		o.Gold = parseGold(m[1])
	}
	if m := reGoldSpent.FindStringSubmatch(seg); m != nil {
		o.GoldSpent = parseGold(m[1])
	}
	if m := reGoldEarned.FindStringSubmatch(seg); m != nil {
		o.GoldEarned = parseGold(m[1])
	}

	switch o.Kind {
	case types.KindSuccess, types.KindSell:
		if m := reItemAcquired.FindStringSubmatch(seg); m != nil {
			if o.Kind == types.KindSell {
				o.Level = parseLevel(m[1])
			}
			o.ItemName = cleanItemName(m[2])
			return
		}
	case types.KindMaintain:
		if m := reItemKept.FindStringSubmatch(seg); m != nil {
			o.Level = parseLevel(m[1])
			o.ItemName = cleanItemName(m[2])
			return
		}
	case types.KindDestroy:
		// The destroyed item's old level is not the outcome level.
		if m := reItemKept.FindStringSubmatch(seg); m != nil {
			o.ItemName = cleanItemName(m[2])
			return
		}
	}
	if m := reItemGeneral.FindStringSubmatch(seg); m != nil {
		o.ItemName = cleanItemName(m[2])
	}
}

func classifyLegacy(text string) types.Outcome {
	o := types.Outcome{Kind: types.KindUnknown}
	switch {
	case anyMatch(legacyDestroy, text):
		o.Kind = types.KindDestroy
		o.Level = types.IntPtr(0)
	default:
		for _, re := range legacySuccess {
			if m := re.FindStringSubmatch(text); m != nil {
				o.Kind = types.KindSuccess
				o.Level = parseLevel(m[1])
				break
			}
		}
		if o.Kind == types.KindUnknown && anyMatch(legacyMaintain, text) {
			o.Kind = types.KindMaintain
		}
	}
	if o.Kind == types.KindUnknown {
		return o
	}
	if m := legacyGold.FindStringSubmatch(text); m != nil {
		o.Gold = parseGold(m[1])
	}
	return o
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// parseLevel returns nil for anything that is not a small non-negative integer.
func parseLevel(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 999 {
		return nil
	}
	return &n
}

// parseGold strips thousands separators; overflow and garbage yield nil.
func parseGold(s string) *int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func cleanItemName(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "』"))
}
