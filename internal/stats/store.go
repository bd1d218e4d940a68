package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/swordbot/internal/logger"
)

// LevelDB key scheme, "|" separated:
//
//	l|<level>                 → LevelStats JSON   (cumulative across sessions)
//	s|<start unix nano>|<id>  → Summary JSON      (one per finished session)
const (
	prefixLevel   = "l|"
	prefixSession = "s|"
)

// Store persists cumulative level stats and session summaries.
// Save is asynchronous; Run is the only writer.
type Store struct {
	log     *logger.Logger
	db      *leveldb.DB
	writeCh chan Summary
}

// Open opens (or creates) the database directory at path. LevelDB allows one
// process per directory, so a second running bot fails here.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open stats db %s (is another swordbot running?): %w", path, err)
	}
	return newStore(db, log), nil
}

// OpenStorage opens a store over an existing goleveldb storage, such as
// storage.NewMemStorage() for dry runs.
func OpenStorage(stor storage.Storage, log *logger.Logger) (*Store, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("open stats storage: %w", err)
	}
	return newStore(db, log), nil
}

func newStore(db *leveldb.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{log: log, db: db, writeCh: make(chan Summary, 1024)}
}

// Save enqueues a finished session for persistence.
//
// Expectations:
//   - Never blocks the caller
//   - Drops the summary with a warning when the queue is full
//   - Does not guarantee persistence before returning
func (s *Store) Save(sum Summary) {
	select {
	case s.writeCh <- sum:
	default:
		s.log.Warn("[STATS] write queue full, dropping session summary", "session", sum.ID)
	}
}

// Run persists queued summaries until ctx is cancelled, then drains the
// queue and closes the database.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			if err := s.db.Close(); err != nil {
				s.log.Warn("[STATS] db close error", "error", err)
			}
			return
		case sum := <-s.writeCh:
			s.persist(sum)
		}
	}
}

// Close closes the database without draining. For read-only use, when Run
// was never started.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cumulative returns the persisted per-level stats, sorted by level.
func (s *Store) Cumulative() ([]LevelStats, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixLevel)), nil)
	defer iter.Release()

	m := map[int]LevelStats{}
	for iter.Next() {
		key := string(iter.Key())
		var l LevelStats
		lvl := levelFromKey(key)
		if err := json.Unmarshal(iter.Value(), &l); err != nil || lvl < 0 {
			s.log.Warn("[STATS] skipping corrupt level record", "key", key, "error", err)
			continue
		}
		l.Level = lvl
		m[lvl] = l
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return sortLevels(m), nil
}

// Sessions returns the persisted session summaries, oldest first.
func (s *Store) Sessions() ([]Summary, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixSession)), nil)
	defer iter.Release()

	var out []Summary
	for iter.Next() {
		var sum Summary
		if err := json.Unmarshal(iter.Value(), &sum); err != nil {
			s.log.Warn("[STATS] skipping corrupt session record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, sum)
	}
	return out, iter.Error()
}

// ---------------------------------------------------------------------------
// Internal — write path
// ---------------------------------------------------------------------------

// persist writes the summary and folds its level stats into the cumulative
// records in one batch.
func (s *Store) persist(sum Summary) {
	data, err := json.Marshal(sum)
	if err != nil {
		s.log.Error("[STATS] marshal summary failed", "session", sum.ID, "error", err)
		return
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(sessionKey(sum)), data)

	for lvl, add := range sum.Levels {
		cur, err := s.level(lvl)
		if err != nil {
			s.log.Error("[STATS] read level failed", "level", lvl, "error", err)
			return
		}
		cur.Level = lvl
		cur.Add(add)
		enc, err := json.Marshal(cur)
		if err != nil {
			s.log.Error("[STATS] marshal level failed", "level", lvl, "error", err)
			return
		}
		batch.Put([]byte(levelKey(lvl)), enc)
	}

	if err := s.db.Write(batch, nil); err != nil {
		s.log.Error("[STATS] persist session failed", "session", sum.ID, "error", err)
		return
	}
	s.log.Info("[STATS] persisted session", "session", sum.ID, "levels", len(sum.Levels), "enhances", sum.TotalEnhances)
}

func (s *Store) level(lvl int) (LevelStats, error) {
	raw, err := s.db.Get([]byte(levelKey(lvl)), nil)
	if err == leveldb.ErrNotFound {
		return LevelStats{}, nil
	}
	if err != nil {
		return LevelStats{}, err
	}
	var l LevelStats
	err = json.Unmarshal(raw, &l)
	return l, err
}

func (s *Store) drain() {
	for {
		select {
		case sum := <-s.writeCh:
			s.persist(sum)
		default:
			return
		}
	}
}

// levelKey zero-pads so iteration order is level order.
func levelKey(lvl int) string {
	return prefixLevel + fmt.Sprintf("%03d", lvl)
}

func sessionKey(sum Summary) string {
	return prefixSession + strconv.FormatInt(sum.StartTime.UnixNano(), 10) + "|" + sum.ID
}

// levelFromKey parses the level out of an l| key; -1 when malformed.
func levelFromKey(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, prefixLevel))
	if err != nil {
		return -1
	}
	return n
}
