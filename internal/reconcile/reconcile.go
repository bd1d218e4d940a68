// Package reconcile turns one issued action plus a series of unreliable
// screen readings into a single validated outcome.
//
// One cycle: read a baseline, send the command, wait, then read through the
// retry ladder until a fresh, recognizable reading appears. Enhance results
// are repaired when they contradict the known level and re-read when they are
// inconsistent with it. If no reading can be trusted, the profile command is
// used as the oracle. The reconciler never mutates state itself; Commit does.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haricheung/swordbot/internal/cyclelog"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/parser"
	"github.com/haricheung/swordbot/internal/state"
	"github.com/haricheung/swordbot/internal/types"
	"github.com/haricheung/swordbot/internal/wait"
)

// ErrExhausted means no reading and no profile could resolve the cycle.
// It is a soft error: the state is left unchanged and the loop continues.
var ErrExhausted = errors.New("outcome unresolved after retries and profile fallback")

// IOError is a failed command dispatch or a cycle in which every read failed.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// TriggerFunc issues the cycle's command.
type TriggerFunc func(ctx context.Context) error

// ReadFunc captures the chat output at a vertical offset.
type ReadFunc func(ctx context.Context, offset int) (string, error)

// ProfileFunc issues the profile command and parses its response. It returns
// nil without error when the response could not be recognized.
type ProfileFunc func(ctx context.Context) (*types.ProfileSnapshot, error)

// Sources of a resolution.
const (
	SourceReading = "reading"
	SourceProfile = "profile"
)

// Cycle is the input of one Resolve call.
type Cycle struct {
	Seq     int
	Current types.GameState // snapshot before the action
	Action  types.Action    // ActionEnhance or ActionSell
	Trigger TriggerFunc
	Read    ReadFunc
	Profile ProfileFunc // optional resynchronization oracle
	Ladder  Ladder
	Timing  Timing
	Trace   *cyclelog.CycleLog // nil-safe
}

// Resolution is the validated result of one cycle.
type Resolution struct {
	Outcome  types.Outcome `json:"outcome"`
	Level    *int          `json:"level,omitempty"` // extracted level
	Gold     *int64        `json:"gold,omitempty"`  // extracted gold
	Attempts int           `json:"attempts"`
	Offset   int           `json:"offset"`
	Source   string        `json:"source"`
	Repair   string        `json:"repair,omitempty"`
}

// Reconciler runs the resolution protocol. It holds no per-cycle state and
// may be reused across cycles by the single loop worker.
type Reconciler struct {
	log   *logger.Logger
	sleep wait.SleepFunc
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSleep replaces the wait primitive (tests record delays instead of sleeping).
func WithSleep(fn wait.SleepFunc) Option {
	return func(r *Reconciler) { r.sleep = fn }
}

// New creates a Reconciler. A nil logger discards output.
func New(log *logger.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	r := &Reconciler{log: log, sleep: wait.Sleep}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve runs one cycle.
//
// Expectations:
//   - A failed baseline read returns *IOError before any command is sent
//   - A failed trigger returns *IOError
//   - A reading is rejected when stale (same fingerprint and same text as the
//     baseline), empty, or of the wrong kind for the action
//   - Rejected readings are retried once at the same offset, then through the
//     remaining ladder offsets, up to Ladder.MaxAttempts readings
//   - Read errors count as attempts and back off; a cycle where every read
//     failed returns *IOError
//   - Enhance results are repaired: maintain at cur+1 becomes success;
//     maintain/success at level 0 with cur > 0 becomes destroy
//   - Inconsistent enhance results are re-read after StaleDelay, then after
//     2×StaleDelay, and the latest recognized result is accepted
//   - When the ladder is exhausted the profile oracle decides; if it cannot,
//     ErrExhausted is returned
//   - Context cancellation returns ctx.Err() at the next wait or read
func (r *Reconciler) Resolve(ctx context.Context, c Cycle) (Resolution, error) {
	cur := c.Current.Level
	base := c.Ladder.primary()
	c.Trace.CycleBegin(c.Seq, c.Action, cur)

	baseline, err := c.Read(ctx, base)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		c.Trace.Reading(c.Seq, 0, base, "", types.KindUnknown, false, err)
		c.Trace.CycleEnd(c.Seq, types.KindUnknown, 0, base, "", "io_failure")
		return Resolution{}, &IOError{Op: "baseline read", Err: err}
	}

	if err := c.Trigger(ctx); err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		c.Trace.CycleEnd(c.Seq, types.KindUnknown, 0, base, "", "io_failure")
		return Resolution{}, &IOError{Op: "send " + string(c.Action), Err: err}
	}
	if err := r.sleep(ctx, c.Timing.SettleDelay); err != nil {
		return Resolution{}, err
	}

	var (
		attempts   int
		okReads    int
		failStreak int
		lastErr    error
		found      bool
		accepted   types.Outcome
		offset     int
	)
	for i, off := range c.Ladder.schedule() {
		if i > 0 {
			delay := c.Timing.RetryDelay
			if failStreak > 0 {
				delay <<= min(failStreak, 3)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return Resolution{}, err
			}
		}
		attempts++
		text, err := c.Read(ctx, off)
		if err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			failStreak++
			lastErr = err
			c.Trace.Reading(c.Seq, attempts, off, "", types.KindUnknown, false, err)
			r.log.Debug("[RECON] read failed", "cycle", c.Seq, "attempt", attempts, "offset", off, "error", err)
			continue
		}
		failStreak = 0
		okReads++

		stale := parser.IsStale(baseline, text)
		o := parser.Classify(text)
		c.Trace.Reading(c.Seq, attempts, off, text, o.Kind, stale, nil)
		if stale || strings.TrimSpace(text) == "" || !acceptable(c.Action, o.Kind) {
			r.log.Debug("[RECON] reading rejected", "cycle", c.Seq, "attempt", attempts,
				"offset", off, "stale", stale, "kind", o.Kind)
			continue
		}
		found, accepted, offset = true, o, off
		break
	}

	if !found {
		if okReads == 0 && lastErr != nil {
			c.Trace.CycleEnd(c.Seq, types.KindUnknown, attempts, base, "", "io_failure")
			return Resolution{Attempts: attempts}, &IOError{Op: "read", Err: lastErr}
		}
		return r.fallback(ctx, c, attempts)
	}

	res := Resolution{Outcome: accepted, Attempts: attempts, Offset: offset, Source: SourceReading}
	if c.Action == types.ActionEnhance {
		res.Outcome, res.Repair = r.repair(c, accepted)
		for n := 1; n <= 2 && !consistent(res.Outcome, cur); n++ {
			reason := fmt.Sprintf("%s at +%s with current +%d", res.Outcome.Kind, levelString(res.Outcome.Level), cur)
			r.log.Info("[RECON] inconsistent result, re-reading", "cycle", c.Seq, "recheck", n, "reason", reason)
			if err := r.sleep(ctx, c.Timing.StaleDelay*time.Duration(n)); err != nil {
				return Resolution{}, err
			}
			attempts++
			text, err := c.Read(ctx, offset)
			if err != nil {
				if ctx.Err() != nil {
					return Resolution{}, ctx.Err()
				}
				c.Trace.Recheck(c.Seq, n, types.KindUnknown, err.Error())
				continue
			}
			o := parser.Classify(text)
			c.Trace.Recheck(c.Seq, n, o.Kind, reason)
			if !o.Kind.Terminal() {
				continue
			}
			res.Outcome, res.Repair = r.repair(c, o)
		}
		res.Attempts = attempts
	}

	res.Level, res.Gold = res.Outcome.Level, res.Outcome.Gold
	c.Trace.CycleEnd(c.Seq, res.Outcome.Kind, res.Attempts, res.Offset, res.Source, "resolved")
	return res, nil
}

// Commit applies a resolution to the model. The returned transition carries
// the pre-action state, to which statistics are attributed.
func (r *Reconciler) Commit(m *state.Model, res Resolution) state.Transition {
	return m.Apply(res.Outcome)
}

func acceptable(a types.Action, k types.OutcomeKind) bool {
	if a == types.ActionSell {
		return k == types.KindSell
	}
	return k.Terminal()
}

// repair rewrites results that contradict the current level.
//
// Expectations:
//   - Maintain reporting level cur+1 becomes Success at that level
//   - Maintain or Success reporting level 0 while cur > 0 becomes Destroy
//   - Everything else is returned unchanged with an empty reason
func (r *Reconciler) repair(c Cycle, o types.Outcome) (types.Outcome, string) {
	cur := c.Current.Level
	if o.Level == nil {
		return o, ""
	}
	lvl := *o.Level
	from := o.Kind
	switch {
	case o.Kind == types.KindMaintain && lvl == cur+1:
		o.Kind = types.KindSuccess
		o.PrevLevel = types.IntPtr(cur)
	case (o.Kind == types.KindMaintain || o.Kind == types.KindSuccess) && lvl == 0 && cur > 0:
		o.Kind = types.KindDestroy
	default:
		return o, ""
	}
	why := fmt.Sprintf("%s→%s", from, o.Kind)
	c.Trace.Repair(c.Seq, from, o.Kind, fmt.Sprintf("level +%d with current +%d", lvl, cur))
	r.log.Info("[RECON] repaired outcome", "cycle", c.Seq, "repair", why, "level", lvl, "current", cur)
	return o, why
}

// consistent reports whether an enhance result agrees with the level it was
// taken from. Absent levels cannot disagree.
func consistent(o types.Outcome, cur int) bool {
	if o.Level == nil {
		return true
	}
	switch o.Kind {
	case types.KindSuccess:
		return *o.Level == cur+1
	case types.KindMaintain:
		return *o.Level == cur
	}
	return true
}

// fallback asks the profile oracle what happened.
func (r *Reconciler) fallback(ctx context.Context, c Cycle, attempts int) (Resolution, error) {
	base := c.Ladder.primary()
	exhausted := func(cause error) (Resolution, error) {
		c.Trace.CycleEnd(c.Seq, types.KindUnknown, attempts, base, SourceProfile, "exhausted")
		r.log.Warn("[RECON] cycle unresolved", "cycle", c.Seq, "attempts", attempts, "cause", cause)
		if cause != nil {
			return Resolution{Attempts: attempts}, fmt.Errorf("%w: %v", ErrExhausted, cause)
		}
		return Resolution{Attempts: attempts}, ErrExhausted
	}

	if c.Profile == nil {
		return exhausted(nil)
	}
	attempts++
	p, err := c.Profile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		c.Trace.Resync(c.Seq, nil, types.KindUnknown, err)
		return exhausted(fmt.Errorf("profile: %w", err))
	}
	if p == nil || p.Level == nil {
		c.Trace.Resync(c.Seq, nil, types.KindUnknown, nil)
		return exhausted(errors.New("profile unreadable"))
	}

	kind := fromProfile(c.Action, c.Current.Level, *p.Level)
	c.Trace.Resync(c.Seq, p.Level, kind, nil)
	if kind == types.KindUnknown {
		return exhausted(fmt.Errorf("profile level +%d does not follow +%d", *p.Level, c.Current.Level))
	}
	r.log.Info("[RECON] resolved from profile", "cycle", c.Seq, "kind", kind, "level", *p.Level)

	o := types.Outcome{Kind: kind, Level: p.Level, Gold: p.Gold, ItemName: p.ItemName}
	res := Resolution{
		Outcome:  o,
		Level:    p.Level,
		Gold:     p.Gold,
		Attempts: attempts,
		Offset:   base,
		Source:   SourceProfile,
	}
	c.Trace.CycleEnd(c.Seq, kind, attempts, base, SourceProfile, "resolved")
	return res, nil
}

// fromProfile maps a level change seen through the profile to an outcome.
//
// Expectations:
//   - Enhance: next = old+1 is Success, next = old is Maintain, next = 0 or next < old is Destroy
//   - Enhance: any other jump is Unknown
//   - Sell: next = 0 is Sell, anything else is Unknown
func fromProfile(a types.Action, old, next int) types.OutcomeKind {
	if a == types.ActionSell {
		if next == 0 {
			return types.KindSell
		}
		return types.KindUnknown
	}
	switch {
	case next == old+1:
		return types.KindSuccess
	case next == old:
		return types.KindMaintain
	case next == 0 || next < old:
		return types.KindDestroy
	}
	return types.KindUnknown
}

func levelString(l *int) string {
	if l == nil {
		return "?"
	}
	return fmt.Sprint(*l)
}
