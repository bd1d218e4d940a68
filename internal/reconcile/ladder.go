package reconcile

import "time"

// DefaultMaxAttempts caps the readings taken for one cycle before the
// profile fallback.
const DefaultMaxAttempts = 5

// Ladder is the ordered list of vertical read offsets tried in one cycle.
// The first offset is also where the baseline is read.
type Ladder struct {
	Offsets     []int `json:"offsets"`
	MaxAttempts int   `json:"max_attempts"`
}

// schedule expands the ladder into the per-attempt offsets: the primary
// offset twice (first read plus one same-offset retry), then the remaining
// offsets in order, repeating them until MaxAttempts is reached.
//
// Expectations:
//   - An empty ladder reads at offset 0
//   - MaxAttempts < 1 means DefaultMaxAttempts
//   - [0, -40, 10] with 5 attempts gives [0, 0, -40, 10, -40]
//   - [-60] with 3 attempts gives [-60, -60, -60]
func (l Ladder) schedule() []int {
	offs := l.Offsets
	if len(offs) == 0 {
		offs = []int{0}
	}
	limit := l.MaxAttempts
	if limit < 1 {
		limit = DefaultMaxAttempts
	}
	rest := offs[1:]
	if len(rest) == 0 {
		rest = offs[:1]
	}
	out := make([]int, 0, limit)
	out = append(out, offs[0])
	for i := 0; len(out) < limit; i++ {
		if i == 0 {
			out = append(out, offs[0])
			continue
		}
		out = append(out, rest[(i-1)%len(rest)])
	}
	return out
}

func (l Ladder) primary() int {
	if len(l.Offsets) == 0 {
		return 0
	}
	return l.Offsets[0]
}

// LadderPolicy builds a Ladder for the current item level. Taller result
// bubbles at high levels need the click moved up, hence two offset sets.
type LadderPolicy struct {
	DefaultOffset      int `yaml:"default_offset" json:"default_offset"`
	HighLevelOffset    int `yaml:"high_level_offset" json:"high_level_offset"`
	HighLevelThreshold int `yaml:"high_level_threshold" json:"high_level_threshold"`
	RetryOffsetLow     int `yaml:"retry_offset_low" json:"retry_offset_low"`
	RetryOffsetHigh    int `yaml:"retry_offset_high" json:"retry_offset_high"`
	Adjust             int `yaml:"adjust" json:"adjust"`
	MaxAttempts        int `yaml:"max_attempts" json:"max_attempts"`
}

// DefaultLadderPolicy matches the stock chat layout.
func DefaultLadderPolicy() LadderPolicy {
	return LadderPolicy{
		DefaultOffset:      0,
		HighLevelOffset:    -60,
		HighLevelThreshold: 9,
		RetryOffsetLow:     -40,
		RetryOffsetHigh:    -70,
		Adjust:             10,
		MaxAttempts:        DefaultMaxAttempts,
	}
}

// For returns the ladder for an item at level: primary offset, retry
// offset, then primary+Adjust, without duplicates.
func (p LadderPolicy) For(level int) Ladder {
	primary, retry := p.DefaultOffset, p.RetryOffsetLow
	if level >= p.HighLevelThreshold {
		primary, retry = p.HighLevelOffset, p.RetryOffsetHigh
	}
	var offs []int
	seen := map[int]bool{}
	for _, o := range []int{primary, retry, primary + p.Adjust} {
		if !seen[o] {
			seen[o] = true
			offs = append(offs, o)
		}
	}
	return Ladder{Offsets: offs, MaxAttempts: p.MaxAttempts}
}

// ProfileOffset is where profile responses are read.
func (p LadderPolicy) ProfileOffset() int { return p.DefaultOffset }

// Timing holds the delays of one cycle.
type Timing struct {
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"` // after the command, before the first read
	RetryDelay  time.Duration `yaml:"retry_delay" json:"retry_delay"`   // between ladder attempts
	StaleDelay  time.Duration `yaml:"stale_delay" json:"stale_delay"`   // first consistency recheck; the second waits twice as long
}

// DefaultTiming matches the chatbot's usual reply latency.
func DefaultTiming() Timing {
	return Timing{
		SettleDelay: 1200 * time.Millisecond,
		RetryDelay:  200 * time.Millisecond,
		StaleDelay:  700 * time.Millisecond,
	}
}
