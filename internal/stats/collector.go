package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

// Collector tallies the current session. It is safe for concurrent use: the
// loop worker records while the console and status API read.
type Collector struct {
	log   *logger.Logger
	store *Store // nil keeps everything in memory
	now   func() time.Time

	mu      sync.Mutex
	session *Session
}

// NewCollector creates a collector. store and log may be nil; now defaults to
// time.Now.
func NewCollector(store *Store, log *logger.Logger, now func() time.Time) *Collector {
	if log == nil {
		log = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Collector{log: log, store: store, now: now}
}

// StartSession opens a new session with gold as the starting balance. An open
// session is ended first.
func (c *Collector) StartSession(gold int64) Session {
	if _, ok := c.EndSession(); ok {
		c.log.Info("[STATS] previous session ended by a new start")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.open(gold)
	c.log.Info("[STATS] session started", "session", s.ID, "gold", gold)
	return s.clone()
}

// RecordEnhance counts one enhancement attempted at level.
//
// Expectations:
//   - Opens a session with goldBefore when none is open
//   - Only success, maintain and destroy are counted
//   - A success raises MaxLevelReached to level+1
//   - Appends one history record per counted attempt
func (c *Collector) RecordEnhance(level int, kind types.OutcomeKind, goldBefore, goldAfter int64) {
	if kind != types.KindSuccess && kind != types.KindMaintain && kind != types.KindDestroy {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.open(goldBefore)

	ls := s.Levels[level]
	ls.Level = level
	ls.Record(kind)
	s.Levels[level] = ls

	s.TotalEnhances++
	s.CurrentGold = goldAfter
	if kind == types.KindSuccess && level+1 > s.MaxLevelReached {
		s.MaxLevelReached = level + 1
	}
	s.History = append(s.History, Record{
		Timestamp:  c.now(),
		Level:      level,
		Result:     kind,
		GoldBefore: goldBefore,
		GoldAfter:  goldAfter,
	})
}

// RecordSell counts a sale. Without an open session it does nothing.
func (c *Collector) RecordSell(goldAfter int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	c.session.TotalSells++
	c.session.CurrentGold = goldAfter
}

// EndSession closes the current session, queues it for persistence and
// returns it. ok is false when no session was open.
func (c *Collector) EndSession() (s Session, ok bool) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return Session{}, false
	}
	end := c.now()
	c.session.EndTime = &end
	s = c.session.clone()
	c.session = nil
	c.mu.Unlock()

	if c.store != nil {
		c.store.Save(Summarize(s, end))
	}
	c.log.Info("[STATS] session ended", "session", s.ID, "enhances", s.TotalEnhances, "profit", s.Profit())
	return s, true
}

// Current returns a copy of the open session.
func (c *Collector) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return c.session.clone(), true
}

// Recent returns up to n of the latest history records, oldest first.
func (c *Collector) Recent(n int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || n <= 0 {
		return nil
	}
	h := c.session.History
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]Record(nil), h...)
}

// Cumulative merges the persisted per-level stats with the open session,
// sorted by level. Without a store only the open session is counted.
func (c *Collector) Cumulative() ([]LevelStats, error) {
	merged := map[int]LevelStats{}
	if c.store != nil {
		persisted, err := c.store.Cumulative()
		if err != nil {
			return nil, err
		}
		for _, l := range persisted {
			merged[l.Level] = l
		}
	}
	if s, ok := c.Current(); ok {
		for lvl, l := range s.Levels {
			m := merged[lvl]
			m.Level = lvl
			m.Add(l)
			merged[lvl] = m
		}
	}
	return sortLevels(merged), nil
}

// open must be called with c.mu held.
func (c *Collector) open(gold int64) *Session {
	if c.session == nil {
		c.session = &Session{
			ID:           uuid.New().String(),
			StartTime:    c.now(),
			StartingGold: gold,
			CurrentGold:  gold,
			Levels:       map[int]LevelStats{},
		}
	}
	return c.session
}

func sortLevels(m map[int]LevelStats) []LevelStats {
	out := make([]LevelStats, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
