package parser

import (
	"regexp"
	"strings"

	"github.com/haricheung/swordbot/internal/types"
)

const profileMarker = "프로필"

var (
	reProfileName = regexp.MustCompile(`이름\s*:\s*@?(\S+)`)
	reProfileGold = regexp.MustCompile(`보유\s*골드\s*:\s*([0-9,]+)\s*G`)
	reProfileItem = regexp.MustCompile(`보유\s*검\s*:\s*\[\+(\d+)\]\s*(.+?)(?:\n|$)`)
)

// ExtractProfile parses a profile command response.
//
// Expectations:
//   - Returns nil when the text does not contain a profile response
//   - Returns nil when the response carries none of name, gold, or item
//   - Only the last profile in the text is read when several are present
//   - Level and ItemName come from "보유 검: [+N] name"; gold strips separators
func ExtractProfile(text string) *types.ProfileSnapshot {
	text = normalize(text)
	i := strings.LastIndex(text, profileMarker)
	if i < 0 {
		return nil
	}
	seg := text[i:]

	p := &types.ProfileSnapshot{}
	if m := reProfileName.FindStringSubmatch(seg); m != nil {
		p.Name = m[1]
	}
	if m := reProfileGold.FindStringSubmatch(seg); m != nil {
		p.Gold = parseGold(m[1])
	}
	if m := reProfileItem.FindStringSubmatch(seg); m != nil {
		p.Level = parseLevel(m[1])
		p.ItemName = cleanItemName(m[2])
	}
	if p.Name == "" && p.Gold == nil && p.Level == nil {
		return nil
	}
	return p
}
