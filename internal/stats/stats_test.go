package stats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/goleak"

	"github.com/haricheung/swordbot/internal/types"
)

// clock returns a now func advancing one minute per call from a fixed start.
func clock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

// ---------------------------------------------------------------------------
// LevelStats
// ---------------------------------------------------------------------------

func TestLevelStats_RecordAndRates(t *testing.T) {
	// Terminal enhancement kinds are counted; sell and unknown are not
	var l LevelStats
	for _, k := range []types.OutcomeKind{types.KindSuccess, types.KindSuccess, types.KindMaintain, types.KindDestroy, types.KindSell, types.KindUnknown} {
		l.Record(k)
	}
	assert.Equal(t, 4, l.TotalAttempts)
	assert.InDelta(t, 0.5, l.SuccessRate(), 1e-9)
	assert.InDelta(t, 0.25, l.MaintainRate(), 1e-9)
	assert.InDelta(t, 0.25, l.DestroyRate(), 1e-9)
	assert.Zero(t, LevelStats{}.SuccessRate())
}

func TestLevelStats_JSONCarriesRates(t *testing.T) {
	// Encoding adds the rates; decoding restores the counts
	l := LevelStats{Level: 3, SuccessCount: 1, MaintainCount: 3, TotalAttempts: 4}
	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success_rate":0.25`)

	var back LevelStats
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, l, back)
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

func TestCollector_SessionTotals(t *testing.T) {
	// Enhances attribute to the pre-enhancement level; sells update gold
	c := NewCollector(nil, nil, clock())
	c.StartSession(10000)
	c.RecordEnhance(4, types.KindSuccess, 10000, 8500)
	c.RecordEnhance(5, types.KindMaintain, 8500, 5500)
	c.RecordEnhance(5, types.KindDestroy, 5500, 2500)
	c.RecordSell(3000)

	s, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, 3, s.TotalEnhances)
	assert.Equal(t, 1, s.TotalSells)
	assert.Equal(t, int64(3000), s.CurrentGold)
	assert.Equal(t, int64(-7000), s.Profit())
	assert.Equal(t, 5, s.MaxLevelReached)
	assert.Equal(t, 1, s.Levels[4].SuccessCount)
	assert.Equal(t, 2, s.Levels[5].TotalAttempts)
	assert.Len(t, s.History, 3)
	assert.Equal(t, int64(-3000), s.History[1].GoldChange())
}

func TestCollector_RecordEnhanceOpensSession(t *testing.T) {
	// Recording without StartSession opens one with goldBefore
	c := NewCollector(nil, nil, clock())
	c.RecordEnhance(0, types.KindSuccess, 500, 400)
	s, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, int64(500), s.StartingGold)
	assert.NotEmpty(t, s.ID)
}

func TestCollector_IgnoresNonEnhanceKinds(t *testing.T) {
	// Unknown and sell kinds do not open a session or count attempts
	c := NewCollector(nil, nil, clock())
	c.RecordEnhance(3, types.KindUnknown, 100, 100)
	c.RecordEnhance(3, types.KindSell, 100, 100)
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestCollector_CurrentIsACopy(t *testing.T) {
	// Mutating a returned session does not affect the collector
	c := NewCollector(nil, nil, clock())
	c.StartSession(100)
	c.RecordEnhance(1, types.KindSuccess, 100, 80)
	s, _ := c.Current()
	s.Levels[1] = LevelStats{}
	s.History[0].Level = 99

	again, _ := c.Current()
	assert.Equal(t, 1, again.Levels[1].TotalAttempts)
	assert.Equal(t, 1, again.History[0].Level)
}

func TestCollector_EndSession(t *testing.T) {
	// EndSession stamps EndTime and clears the open session
	c := NewCollector(nil, nil, clock())
	_, ok := c.EndSession()
	assert.False(t, ok, "no session open yet")

	c.StartSession(100)
	s, ok := c.EndSession()
	require.True(t, ok)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, time.Minute, s.Duration(time.Time{}))
	_, open := c.Current()
	assert.False(t, open)
}

func TestCollector_Recent(t *testing.T) {
	// Recent returns the newest n records, oldest first
	c := NewCollector(nil, nil, clock())
	for lvl := 0; lvl < 5; lvl++ {
		c.RecordEnhance(lvl, types.KindSuccess, 100, 90)
	}
	got := c.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Level)
	assert.Equal(t, 4, got[1].Level)
	assert.Nil(t, c.Recent(0))
}

func TestSummary_DerivedFields(t *testing.T) {
	// ROI and profit per enhance follow the session totals
	s := Session{StartingGold: 1000, CurrentGold: 1500, TotalEnhances: 5}
	sum := Summarize(s, time.Time{})
	assert.Equal(t, int64(500), sum.Profit)
	assert.InDelta(t, 50.0, sum.ROIPercent, 1e-9)
	assert.InDelta(t, 100.0, sum.ProfitPerEnhance, 1e-9)
	assert.Zero(t, Session{}.ROIPercent())
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func openMem(t *testing.T, stor storage.Storage) *Store {
	t.Helper()
	s, err := OpenStorage(stor, nil)
	require.NoError(t, err)
	return s
}

func TestStore_PersistMergesLevels(t *testing.T) {
	// Two sessions at the same level add up in the cumulative record
	s := openMem(t, storage.NewMemStorage())
	defer s.Close()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.persist(Summary{Session: Session{ID: "a", StartTime: start, Levels: map[int]LevelStats{
		5: {Level: 5, SuccessCount: 1, TotalAttempts: 2, MaintainCount: 1},
	}}})
	s.persist(Summary{Session: Session{ID: "b", StartTime: start.Add(time.Hour), Levels: map[int]LevelStats{
		5:  {Level: 5, DestroyCount: 1, TotalAttempts: 1},
		12: {Level: 12, SuccessCount: 1, TotalAttempts: 1},
	}}})

	levels, err := s.Cumulative()
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, LevelStats{Level: 5, SuccessCount: 1, MaintainCount: 1, DestroyCount: 1, TotalAttempts: 3}, levels[0])
	assert.Equal(t, 12, levels[1].Level)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
}

// goleveldb's memory-pool drainer outlives Close by up to a second.
var ignoreMpoolDrain = goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain")

func TestStore_RunDrainsOnCancel(t *testing.T) {
	// Summaries queued before cancellation are persisted before the DB closes
	defer goleak.VerifyNone(t, ignoreMpoolDrain)

	stor := storage.NewMemStorage()
	s := openMem(t, stor)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Save(Summary{Session: Session{ID: "x", StartTime: time.Now(), Levels: map[int]LevelStats{
		2: {Level: 2, SuccessCount: 1, TotalAttempts: 1},
	}}})
	cancel()
	<-done

	reopened := openMem(t, stor)
	defer reopened.Close()
	levels, err := reopened.Cumulative()
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 1, levels[0].SuccessCount)
}

func TestCollector_CumulativeIncludesOpenSession(t *testing.T) {
	// Persisted stats and the open session are merged per level
	s := openMem(t, storage.NewMemStorage())
	defer s.Close()
	s.persist(Summary{Session: Session{ID: "old", Levels: map[int]LevelStats{
		3: {Level: 3, SuccessCount: 2, TotalAttempts: 2},
	}}})

	c := NewCollector(s, nil, clock())
	c.StartSession(1000)
	c.RecordEnhance(3, types.KindMaintain, 1000, 200)

	levels, err := c.Cumulative()
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 3, levels[0].TotalAttempts)
	assert.Equal(t, 1, levels[0].MaintainCount)
}

func TestLevelKeyOrdering(t *testing.T) {
	assert.Equal(t, "l|007", levelKey(7))
	assert.Equal(t, 7, levelFromKey("l|007"))
	assert.Equal(t, -1, levelFromKey("l|x"))
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestExportSession_WritesJSONAndCSV(t *testing.T) {
	// The CSV has a header plus one row per enhancement; JSON carries totals
	c := NewCollector(nil, nil, clock())
	c.StartSession(1000)
	c.RecordEnhance(0, types.KindSuccess, 1000, 900)
	c.RecordEnhance(1, types.KindMaintain, 900, 700)
	s, _ := c.EndSession()

	dir := filepath.Join(t.TempDir(), "sessions")
	jsonPath, csvPath, err := ExportSession(dir, s, time.Now())
	require.NoError(t, err)

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, s.ID, decoded["session_id"])
	assert.EqualValues(t, 2, decoded["total_enhances"])
	assert.EqualValues(t, -300, decoded["profit"])

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"timestamp", "level", "result", "gold_before", "gold_after", "gold_change"}, rows[0])
	assert.Equal(t, []string{"1", "maintain", "900", "700", "-200"}, rows[2][1:])
}
