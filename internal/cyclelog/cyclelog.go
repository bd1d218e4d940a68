// Package cyclelog writes a per-session JSONL trace of every reconciliation
// cycle: which offsets were read, what each reading classified as, which
// readings were stale, and which results were repaired or resynced.
//
// The trace is the raw material for recalibrating read offsets when the chat
// layout changes: per-offset accepted/attempted counts show which offsets
// still land on the newest reply.
//
// Design constraints:
//   - All CycleLog methods are nil-safe (no-op on nil receiver) so the
//     reconciler never needs nil checks.
//   - Registry is the sole owner of JSONL persistence.
//   - The reconciler receives a *CycleLog per cycle, not in its constructor.
package cyclelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

// EventKind labels a single structured event in the cycle log.
type EventKind string

const (
	KindSessionBegin EventKind = "session_begin"
	KindSessionEnd   EventKind = "session_end"
	KindCycleBegin   EventKind = "cycle_begin"
	KindCycleEnd     EventKind = "cycle_end"
	KindReading      EventKind = "reading"
	KindRepair       EventKind = "repair"
	KindRecheck      EventKind = "recheck"
	KindResync       EventKind = "resync"
)

// Event is one JSONL line in the cycle log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// session_begin / session_end
	SessionID string       `json:"session_id,omitempty"`
	Status    string       `json:"status,omitempty"`
	ElapsedMs int64        `json:"elapsed_ms,omitempty"`
	Cycles    int          `json:"cycles,omitempty"`
	Offsets   []OffsetStat `json:"offsets,omitempty"` // session_end only

	// cycle events
	Cycle    int               `json:"cycle,omitempty"`
	Action   types.Action      `json:"action,omitempty"`
	Level    *int              `json:"level,omitempty"` // pre-action level on cycle_begin, profile level on resync
	Attempt  int               `json:"attempt,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Offset   *int              `json:"offset,omitempty"`
	TextLen  int               `json:"text_len,omitempty"`
	Outcome  types.OutcomeKind `json:"outcome,omitempty"`
	Stale    bool              `json:"stale,omitempty"`
	Error    string            `json:"error,omitempty"`

	// repair
	From   types.OutcomeKind `json:"from,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// OffsetStat summarises how one read offset performed across a session.
type OffsetStat struct {
	Offset    int `json:"offset"`
	Attempted int `json:"attempted"`
	Accepted  int `json:"accepted"`
	Stale     int `json:"stale"`
	Failed    int `json:"failed"` // read errors
}

// CycleLog is a handle for writing structured events for one session.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *CycleLog)
//   - Concurrent writes are safe (mutex-protected)
//   - Offsets() counts every Reading by offset and every accepted CycleEnd by offset
type CycleLog struct {
	sessionID string
	started   time.Time
	log       *logger.Logger
	mu        sync.Mutex
	f         *os.File
	cycles    int
	offsets   map[int]*OffsetStat
}

// Registry maps session IDs to open CycleLogs.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a session_begin event as the first JSONL line
//   - Open returns the existing log when called twice for the same session
//   - Get returns nil for unknown sessions
//   - Close writes session_end with status, elapsed_ms, cycles and per-offset stats
//   - Close no-ops for unknown sessions and on a nil *Registry
type Registry struct {
	dir  string
	log  *logger.Logger
	mu   sync.Mutex
	logs map[string]*CycleLog
}

// NewRegistry creates a Registry that writes one JSONL file per session under dir.
func NewRegistry(dir string, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{dir: dir, log: log, logs: make(map[string]*CycleLog)}
}

// Open creates the CycleLog for sessionID and writes session_begin.
// Returns nil (a valid no-op handle) when the file cannot be created.
func (r *Registry) Open(sessionID string) *CycleLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cl, ok := r.logs[sessionID]; ok {
		return cl
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.log.Error("[CYCLELOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.Error("[CYCLELOG] could not open log file", "path", path, "error", err)
		return nil
	}

	cl := &CycleLog{
		sessionID: sessionID,
		started:   time.Now(),
		log:       r.log,
		f:         f,
		offsets:   make(map[int]*OffsetStat),
	}
	r.logs[sessionID] = cl
	cl.write(Event{Kind: KindSessionBegin, SessionID: sessionID})
	return cl
}

// Get returns the CycleLog for sessionID, or nil if not found.
func (r *Registry) Get(sessionID string) *CycleLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[sessionID]
}

// Close writes session_end, closes the file and forgets the session.
func (r *Registry) Close(sessionID, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	cl, ok := r.logs[sessionID]
	if ok {
		delete(r.logs, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	cl.mu.Lock()
	cycles := cl.cycles
	elapsed := time.Since(cl.started).Milliseconds()
	cl.mu.Unlock()

	cl.write(Event{
		Kind:      KindSessionEnd,
		SessionID: sessionID,
		Status:    status,
		ElapsedMs: elapsed,
		Cycles:    cycles,
		Offsets:   cl.Offsets(),
	})

	cl.mu.Lock()
	if cl.f != nil {
		_ = cl.f.Close()
		cl.f = nil
	}
	cl.mu.Unlock()
}

// CycleBegin writes a cycle_begin event.
func (cl *CycleLog) CycleBegin(cycle int, action types.Action, level int) {
	if cl == nil {
		return
	}
	cl.mu.Lock()
	cl.cycles++
	cl.mu.Unlock()
	cl.write(Event{Kind: KindCycleBegin, Cycle: cycle, Action: action, Level: &level})
}

// Reading writes a reading event and updates the per-offset counters.
// err is nil for successful reads.
func (cl *CycleLog) Reading(cycle, attempt, offset int, text string, kind types.OutcomeKind, stale bool, err error) {
	if cl == nil {
		return
	}
	cl.mu.Lock()
	st := cl.offsetStat(offset)
	st.Attempted++
	if stale {
		st.Stale++
	}
	if err != nil {
		st.Failed++
	}
	cl.mu.Unlock()

	e := Event{
		Kind:    KindReading,
		Cycle:   cycle,
		Attempt: attempt,
		Offset:  &offset,
		TextLen: len(text),
		Outcome: kind,
		Stale:   stale,
	}
	if err != nil {
		e.Error = err.Error()
	}
	cl.write(e)
}

// Repair writes a repair event: the classified kind from was rewritten to to.
func (cl *CycleLog) Repair(cycle int, from, to types.OutcomeKind, reason string) {
	if cl == nil {
		return
	}
	cl.write(Event{Kind: KindRepair, Cycle: cycle, From: from, Outcome: to, Reason: reason})
}

// Recheck writes a recheck event for the n-th consistency re-read.
func (cl *CycleLog) Recheck(cycle, n int, kind types.OutcomeKind, reason string) {
	if cl == nil {
		return
	}
	cl.write(Event{Kind: KindRecheck, Cycle: cycle, Attempt: n, Outcome: kind, Reason: reason})
}

// Resync writes a resync event for a profile fallback. level is nil when the
// profile could not be read.
func (cl *CycleLog) Resync(cycle int, level *int, kind types.OutcomeKind, err error) {
	if cl == nil {
		return
	}
	e := Event{Kind: KindResync, Cycle: cycle, Level: level, Outcome: kind}
	if err != nil {
		e.Error = err.Error()
	}
	cl.write(e)
}

// CycleEnd writes a cycle_end event. status is "resolved", "exhausted" or
// "io_failure"; offset is counted as accepted only for cycles resolved from
// a reading.
func (cl *CycleLog) CycleEnd(cycle int, kind types.OutcomeKind, attempts, offset int, source, status string) {
	if cl == nil {
		return
	}
	if status == "resolved" && source == "reading" {
		cl.mu.Lock()
		cl.offsetStat(offset).Accepted++
		cl.mu.Unlock()
	}
	cl.write(Event{
		Kind:     KindCycleEnd,
		Cycle:    cycle,
		Outcome:  kind,
		Attempts: attempts,
		Offset:   &offset,
		Status:   status,
		Reason:   source,
	})
}

// Offsets returns the per-offset counters sorted by offset.
func (cl *CycleLog) Offsets() []OffsetStat {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]OffsetStat, 0, len(cl.offsets))
	for _, s := range cl.offsets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// offsetStat must be called with cl.mu held.
func (cl *CycleLog) offsetStat(offset int) *OffsetStat {
	s := cl.offsets[offset]
	if s == nil {
		s = &OffsetStat{Offset: offset}
		cl.offsets[offset] = s
	}
	return s
}

func (cl *CycleLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		cl.log.Error("[CYCLELOG] marshal event", "error", err)
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.f == nil {
		return
	}
	if _, err := fmt.Fprintf(cl.f, "%s\n", data); err != nil {
		cl.log.Error("[CYCLELOG] write event", "session", cl.sessionID, "error", err)
	}
}
