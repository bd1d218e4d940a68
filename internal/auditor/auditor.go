// Package auditor taps the bus read-only and keeps a JSONL audit trail of
// every loop notification, flagging the ones that deserve a second look.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

// Anomaly labels written to the audit log.
const (
	AnomalyNone      = "none"
	AnomalyBoundary  = "boundary_violation"
	AnomalyRepair    = "repair"
	AnomalyResync    = "resync"
	AnomalyExhausted = "exhausted"
	AnomalyDrift     = "drift"
	AnomalyFatal     = "fatal"
)

// driftThreshold is the run of consecutive exhausted cycles after which the
// ladder offsets are probably wrong for the current chat layout.
const driftThreshold = 3

// allowed sender→receiver pair per message type
var allowedPaths = map[types.MessageType]struct {
	from types.Role
	to   types.Role
}{
	types.MsgStateChanged: {types.RoleLoop, types.RoleObserver},
	types.MsgOutcome:      {types.RoleLoop, types.RoleObserver},
	types.MsgLoopStatus:   {types.RoleLoop, types.RoleObserver},
	types.MsgError:        {types.RoleLoop, types.RoleObserver},
}

// Auditor writes one AuditEvent per tapped message.
type Auditor struct {
	tap     <-chan types.Message
	logPath string
	log     *logger.Logger
	now     func() time.Time

	mu        sync.Mutex
	out       io.Writer
	exhausted int            // consecutive exhausted cycles
	counts    map[string]int // anomaly -> events
}

// New creates an Auditor reading tap and appending to logPath.
func New(tap <-chan types.Message, logPath string, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.Nop()
	}
	return &Auditor{
		tap:     tap,
		logPath: logPath,
		log:     log,
		now:     time.Now,
		counts:  make(map[string]int),
	}
}

// Run blocks until ctx is cancelled or the tap is closed. Messages already
// buffered on the tap when ctx ends are still written.
func (a *Auditor) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		return fmt.Errorf("audit log dir: %w", err)
	}
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer f.Close()

	a.mu.Lock()
	a.out = f
	a.mu.Unlock()
	a.log.Info("[AUDIT] started", "path", a.logPath)

	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case msg, ok := <-a.tap:
			if !ok {
				return nil
			}
			a.process(msg)
		}
	}
}

func (a *Auditor) drain() {
	for {
		select {
		case msg, ok := <-a.tap:
			if !ok {
				return
			}
			a.process(msg)
		default:
			return
		}
	}
}

// Counts returns the number of events per anomaly label, "none" included.
func (a *Auditor) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// process classifies msg and writes its audit event.
//
// Expectations:
//   - A sender/receiver pair other than loop→observer is a boundary_violation
//   - An outcome resolved from the profile is a resync; a repaired one is a repair
//   - Any committed outcome ends an exhausted run
//   - The driftThreshold-th consecutive exhausted error is flagged drift
//   - A fatal error is flagged fatal
func (a *Auditor) process(msg types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	anomaly := AnomalyNone
	var detail *string
	flag := func(kind, format string, args ...any) {
		anomaly = kind
		d := fmt.Sprintf(format, args...)
		detail = &d
	}

	if allowed, ok := allowedPaths[msg.Type]; ok {
		if msg.From != allowed.from || msg.To != allowed.to {
			flag(AnomalyBoundary, "expected %s→%s for %s, got %s→%s",
				allowed.from, allowed.to, msg.Type, msg.From, msg.To)
			a.log.Warn("[AUDIT] boundary violation", "detail", *detail)
		}
	}

	switch msg.Type {
	case types.MsgOutcome:
		ev, err := decode[types.OutcomeEvent](msg.Payload)
		if err != nil {
			break
		}
		a.exhausted = 0
		switch {
		case ev.Source == "profile":
			flag(AnomalyResync, "cycle %d %s resolved from profile as %s at +%d",
				ev.Cycle, ev.Action, ev.Outcome.Kind, ev.State.Level)
		case ev.Repair != "":
			flag(AnomalyRepair, "cycle %d repaired %s at offset %d",
				ev.Cycle, ev.Repair, ev.Offset)
		}

	case types.MsgError:
		ev, err := decode[types.ErrorEvent](msg.Payload)
		if err != nil {
			break
		}
		switch ev.Kind {
		case types.ErrKindExhausted:
			a.exhausted++
			if a.exhausted >= driftThreshold {
				flag(AnomalyDrift, "%d consecutive exhausted cycles (last cycle %d); reading offsets need recalibration",
					a.exhausted, ev.Cycle)
				a.log.Warn("[AUDIT] drift detected", "consecutive", a.exhausted)
			} else {
				flag(AnomalyExhausted, "cycle %d: %s", ev.Cycle, ev.Message)
			}
		case types.ErrKindFatal:
			flag(AnomalyFatal, "cycle %d after %d consecutive failures: %s",
				ev.Cycle, ev.Consecutive, ev.Message)
		}
	}

	a.counts[anomaly]++
	a.write(types.AuditEvent{
		EventID:     uuid.New().String(),
		Timestamp:   a.now().UTC().Format(time.RFC3339),
		FromRole:    msg.From,
		ToRole:      msg.To,
		MessageType: string(msg.Type),
		Anomaly:     anomaly,
		Detail:      detail,
	})
}

// write appends one JSON line; a.mu must be held.
func (a *Auditor) write(e types.AuditEvent) {
	if a.out == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		a.log.Error("[AUDIT] marshal event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(a.out, "%s\n", data); err != nil {
		a.log.Error("[AUDIT] write event", "error", err)
	}
}

// decode accepts the typed payload the loop publishes, a pointer to it, or
// any JSON-shaped value (e.g. a map from a replayed log).
func decode[T any](payload any) (T, error) {
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var out T
	b, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(b, &out)
}
