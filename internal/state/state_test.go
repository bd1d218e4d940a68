package state

import (
	"sync"
	"testing"
	"time"

	"github.com/haricheung/swordbot/internal/types"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func seeded(level, failures int, gold int64) *Model {
	m := New(fixedClock())
	m.s.Level = level
	m.s.ConsecutiveFailures = failures
	m.s.Gold = gold
	return m
}

func TestApply_SuccessIncrementsAndClearsFailures(t *testing.T) {
	// Success raises level by exactly one and resets failures
	m := seeded(7, 2, 100)
	tr := m.Apply(types.Outcome{Kind: types.KindSuccess, Level: types.IntPtr(12)})
	if tr.After.Level != 8 {
		t.Errorf("expected level 8, got %d", tr.After.Level)
	}
	if tr.After.ConsecutiveFailures != 0 {
		t.Errorf("expected failures 0, got %d", tr.After.ConsecutiveFailures)
	}
	if tr.Before.Level != 7 {
		t.Errorf("expected before level 7, got %d", tr.Before.Level)
	}
}

func TestApply_MaintainKeepsLevel(t *testing.T) {
	// Maintain leaves level alone and counts a failure
	m := seeded(5, 1, 100)
	tr := m.Apply(types.Outcome{Kind: types.KindMaintain})
	if tr.After.Level != 5 || tr.After.ConsecutiveFailures != 2 {
		t.Errorf("expected level 5 failures 2, got %d/%d", tr.After.Level, tr.After.ConsecutiveFailures)
	}
}

func TestApply_DestroyZeroes(t *testing.T) {
	// Destroy drops to level 0 and clears failures
	m := seeded(11, 3, 100)
	tr := m.Apply(types.Outcome{Kind: types.KindDestroy})
	if tr.After.Level != 0 || tr.After.ConsecutiveFailures != 0 {
		t.Errorf("expected 0/0, got %d/%d", tr.After.Level, tr.After.ConsecutiveFailures)
	}
}

func TestApply_SellTakesNewItemLevel(t *testing.T) {
	// Sell resets to the new item's level and copies gold
	m := seeded(12, 1, 100)
	tr := m.Apply(types.Outcome{Kind: types.KindSell, Level: types.IntPtr(0), Gold: types.Int64Ptr(5000), ItemName: "낡은 단검"})
	if tr.After.Level != 0 || tr.After.Gold != 5000 || tr.After.LastItemName != "낡은 단검" {
		t.Errorf("unexpected state %+v", tr.After)
	}
}

func TestApply_UnknownChangesNothing(t *testing.T) {
	// Unknown outcomes are not committed
	m := seeded(4, 1, 100)
	tr := m.Apply(types.Outcome{Kind: types.KindUnknown, Gold: types.Int64Ptr(1)})
	if tr.After != tr.Before || m.Snapshot().Gold != 100 {
		t.Errorf("expected no change, got %+v", tr.After)
	}
}

func TestApply_GoldOnlyWhenPresent(t *testing.T) {
	// Absent gold keeps the stored gold
	m := seeded(1, 0, 777)
	m.Apply(types.Outcome{Kind: types.KindSuccess})
	if got := m.Snapshot().Gold; got != 777 {
		t.Errorf("expected gold 777, got %d", got)
	}
	m.Apply(types.Outcome{Kind: types.KindSuccess, Gold: types.Int64Ptr(42)})
	if got := m.Snapshot().Gold; got != 42 {
		t.Errorf("expected gold 42, got %d", got)
	}
}

func TestApply_SuccessCappedAtMaxLevel(t *testing.T) {
	// Level never exceeds MaxLevel
	m := seeded(MaxLevel, 0, 0)
	if tr := m.Apply(types.Outcome{Kind: types.KindSuccess}); tr.After.Level != MaxLevel {
		t.Errorf("expected %d, got %d", MaxLevel, tr.After.Level)
	}
}

func TestSeed_OverwritesPresentFields(t *testing.T) {
	// Profile fields replace state; absent ones are kept
	m := seeded(3, 2, 50)
	s := m.Seed(types.ProfileSnapshot{Level: types.IntPtr(9)})
	if s.Level != 9 || s.Gold != 50 || s.ConsecutiveFailures != 0 {
		t.Errorf("unexpected state %+v", s)
	}
}

func TestReset_RestoresInitial(t *testing.T) {
	// Reset clears everything
	m := seeded(9, 4, 1000)
	m.Reset()
	s := m.Snapshot()
	if s.Level != 0 || s.Gold != 0 || s.ConsecutiveFailures != 0 || s.LastOutcome != types.KindUnknown {
		t.Errorf("expected initial state, got %+v", s)
	}
}

func TestSnapshot_ConcurrentReadersSeeWholeTransitions(t *testing.T) {
	// Readers never see a success state that still carries failures
	m := seeded(0, 0, 0)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := m.Snapshot()
			if s.LastOutcome == types.KindSuccess && s.ConsecutiveFailures != 0 {
				t.Errorf("torn snapshot: %+v", s)
				return
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		m.Apply(types.Outcome{Kind: types.KindMaintain})
		m.Apply(types.Outcome{Kind: types.KindSuccess})
		m.Apply(types.Outcome{Kind: types.KindDestroy})
	}
	close(stop)
	wg.Wait()
}
