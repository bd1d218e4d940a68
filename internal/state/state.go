// Package state holds the single authoritative GameState.
//
// The loop worker is the only writer. Observers read copies through Snapshot,
// which takes a short lock so they never see a half-applied transition.
package state

import (
	"sync"
	"time"

	"github.com/haricheung/swordbot/internal/types"
)

// MaxLevel is the highest item level the game allows.
const MaxLevel = 20

// Transition records the state on both sides of one applied outcome.
// Statistics are attributed to Before.Level.
type Transition struct {
	Before types.GameState `json:"before"`
	After  types.GameState `json:"after"`
}

// Model owns one GameState.
//
// Expectations:
//   - Success raises level by exactly one (capped at MaxLevel) and clears failures
//   - Maintain keeps level and increments failures
//   - Destroy sets level to 0 and clears failures
//   - Sell sets level to the new item's level (0 when absent) and clears failures
//   - Unknown changes nothing
//   - Extracted gold replaces the stored gold only when present
type Model struct {
	mu  sync.Mutex
	s   types.GameState
	now func() time.Time
}

// New returns a Model in the reset state. now may be nil.
func New(now func() time.Time) *Model {
	if now == nil {
		now = time.Now
	}
	m := &Model{now: now}
	m.s = m.initial()
	return m
}

func (m *Model) initial() types.GameState {
	return types.GameState{LastOutcome: types.KindUnknown, LastUpdate: m.now()}
}

// Snapshot returns a copy of the current state.
func (m *Model) Snapshot() types.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

// Apply commits outcome o. Level arithmetic follows o.Kind only; o.Level is
// not trusted for it. Gold, spend and item name are copied when present.
func (m *Model) Apply(o types.Outcome) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.s
	if o.Kind == types.KindUnknown {
		return Transition{Before: before, After: before}
	}

	s := m.s
	switch o.Kind {
	case types.KindSuccess:
		if s.Level < MaxLevel {
			s.Level++
		}
		s.ConsecutiveFailures = 0
	case types.KindMaintain:
		s.ConsecutiveFailures++
	case types.KindDestroy:
		s.Level = 0
		s.ConsecutiveFailures = 0
	case types.KindSell:
		s.Level = 0
		if o.Level != nil {
			s.Level = clampLevel(*o.Level)
		}
		s.ConsecutiveFailures = 0
	}

	if o.Gold != nil {
		s.Gold = *o.Gold
	}
	s.GoldSpent, s.GoldEarned = 0, 0
	if o.GoldSpent != nil {
		s.GoldSpent = *o.GoldSpent
	}
	if o.GoldEarned != nil {
		s.GoldEarned = *o.GoldEarned
	}
	if o.ItemName != "" {
		s.LastItemName = o.ItemName
	}
	s.LastOutcome = o.Kind
	s.LastUpdate = m.now()

	m.s = s
	return Transition{Before: before, After: s}
}

// Seed overwrites level, gold and item from a profile reading. Absent fields
// are left unchanged. Failures are cleared because the history is unknown.
func (m *Model) Seed(p types.ProfileSnapshot) types.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Level != nil {
		m.s.Level = clampLevel(*p.Level)
	}
	if p.Gold != nil {
		m.s.Gold = *p.Gold
	}
	if p.ItemName != "" {
		m.s.LastItemName = p.ItemName
	}
	m.s.ConsecutiveFailures = 0
	m.s.LastUpdate = m.now()
	return m.s
}

// Reset returns every field to its initial value.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = m.initial()
}

func clampLevel(l int) int {
	switch {
	case l < 0:
		return 0
	case l > MaxLevel:
		return MaxLevel
	}
	return l
}
