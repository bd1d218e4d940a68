// Package stats tracks enhancement results per level and per session,
// persists cumulative numbers in LevelDB and exports finished sessions.
package stats

import (
	"encoding/json"
	"time"

	"github.com/haricheung/swordbot/internal/types"
)

// LevelStats counts enhancement results attempted at one level.
type LevelStats struct {
	Level         int `json:"level"`
	SuccessCount  int `json:"success_count"`
	MaintainCount int `json:"maintain_count"`
	DestroyCount  int `json:"destroy_count"`
	TotalAttempts int `json:"total_attempts"`
}

func (s LevelStats) SuccessRate() float64  { return ratio(s.SuccessCount, s.TotalAttempts) }
func (s LevelStats) MaintainRate() float64 { return ratio(s.MaintainCount, s.TotalAttempts) }
func (s LevelStats) DestroyRate() float64  { return ratio(s.DestroyCount, s.TotalAttempts) }

// Record counts one result. Non-enhancement kinds are ignored.
func (s *LevelStats) Record(kind types.OutcomeKind) {
	switch kind {
	case types.KindSuccess:
		s.SuccessCount++
	case types.KindMaintain:
		s.MaintainCount++
	case types.KindDestroy:
		s.DestroyCount++
	default:
		return
	}
	s.TotalAttempts++
}

// Add merges o into s.
func (s *LevelStats) Add(o LevelStats) {
	s.SuccessCount += o.SuccessCount
	s.MaintainCount += o.MaintainCount
	s.DestroyCount += o.DestroyCount
	s.TotalAttempts += o.TotalAttempts
}

// MarshalJSON adds the derived rates to the encoded counts. Decoding ignores
// them.
func (s LevelStats) MarshalJSON() ([]byte, error) {
	type counts LevelStats
	return json.Marshal(struct {
		counts
		SuccessRate  float64 `json:"success_rate"`
		MaintainRate float64 `json:"maintain_rate"`
		DestroyRate  float64 `json:"destroy_rate"`
	}{counts(s), s.SuccessRate(), s.MaintainRate(), s.DestroyRate()})
}

// Record is one enhancement attempt in the session history.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	Level      int               `json:"level"`
	Result     types.OutcomeKind `json:"result"`
	GoldBefore int64             `json:"gold_before"`
	GoldAfter  int64             `json:"gold_after"`
}

func (r Record) GoldChange() int64 { return r.GoldAfter - r.GoldBefore }

// Session is the running tally of one loop session.
type Session struct {
	ID              string             `json:"session_id"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         *time.Time         `json:"end_time"`
	TotalEnhances   int                `json:"total_enhances"`
	TotalSells      int                `json:"total_sells"`
	StartingGold    int64              `json:"starting_gold"`
	CurrentGold     int64              `json:"current_gold"`
	MaxLevelReached int                `json:"max_level_reached"`
	Levels          map[int]LevelStats `json:"level_stats"`
	History         []Record           `json:"-"`
}

// Duration runs to EndTime, or to now for an open session.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		now = *s.EndTime
	}
	return now.Sub(s.StartTime)
}

func (s Session) Profit() int64 { return s.CurrentGold - s.StartingGold }

func (s Session) ROIPercent() float64 {
	if s.StartingGold == 0 {
		return 0
	}
	return float64(s.Profit()) / float64(s.StartingGold) * 100
}

func (s Session) ProfitPerEnhance() float64 {
	if s.TotalEnhances == 0 {
		return 0
	}
	return float64(s.Profit()) / float64(s.TotalEnhances)
}

func (s Session) SuccessRate() float64 {
	var ok, total int
	for _, l := range s.Levels {
		ok += l.SuccessCount
		total += l.TotalAttempts
	}
	return ratio(ok, total)
}

// clone deep-copies the map and history so callers never share them with
// the collector.
func (s Session) clone() Session {
	out := s
	out.Levels = make(map[int]LevelStats, len(s.Levels))
	for k, v := range s.Levels {
		out.Levels[k] = v
	}
	out.History = append([]Record(nil), s.History...)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return out
}

// Summary is the persisted and exported view of a session.
type Summary struct {
	Session
	DurationMinutes  float64 `json:"duration_minutes"`
	Profit           int64   `json:"profit"`
	ROIPercent       float64 `json:"roi_percent"`
	ProfitPerEnhance float64 `json:"profit_per_enhance"`
	TotalSuccessRate float64 `json:"total_success_rate"`
}

// Summarize computes the derived numbers of s as of now.
func Summarize(s Session, now time.Time) Summary {
	return Summary{
		Session:          s,
		DurationMinutes:  s.Duration(now).Minutes(),
		Profit:           s.Profit(),
		ROIPercent:       s.ROIPercent(),
		ProfitPerEnhance: s.ProfitPerEnhance(),
		TotalSuccessRate: s.SuccessRate(),
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
