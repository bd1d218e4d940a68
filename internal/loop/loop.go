// Package loop runs the enhancement state machine on one dedicated worker.
//
// Each iteration asks the strategy for an action, sends it, lets the
// reconciler resolve what happened, commits the result and notifies
// observers on the bus. Pause and stop are cooperative: the worker checks
// them once per iteration, and every wait it performs can be released early.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/swordbot/internal/bus"
	"github.com/haricheung/swordbot/internal/cyclelog"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/parser"
	"github.com/haricheung/swordbot/internal/reconcile"
	"github.com/haricheung/swordbot/internal/state"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/strategy"
	"github.com/haricheung/swordbot/internal/types"
	"github.com/haricheung/swordbot/internal/wait"
)

// errNoProfile is returned by Sync when the profile reply was unreadable.
var errNoProfile = errors.New("profile reply not recognized")

var (
	ErrAlreadyRunning = errors.New("loop already running")
	ErrNotRunning     = errors.New("loop not running")
	// ErrFatal wraps the error that pushed the consecutive-failure count to
	// its limit. The loop is in StatusError and needs a new Start.
	ErrFatal = errors.New("too many consecutive failures")
)

// panicError is a recovered panic from one iteration. It counts like an I/O
// failure.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Loop is the control loop. Create it with New; the zero value is unusable.
type Loop struct {
	game    Game
	bus     *bus.Bus
	log     *logger.Logger
	model   *state.Model
	recon   *reconcile.Reconciler
	stats   *stats.Collector   // optional
	cycles  *cyclelog.Registry // optional
	exports string             // session export dir; empty disables

	mu       sync.Mutex
	policy   Policy
	strat    strategy.Strategy
	status   types.LoopStatus
	alive    bool
	paused   bool
	stopping bool
	gate     chan struct{} // closed to release a paused worker
	stopCh   chan struct{} // closed by Stop to cut the inter-action delay short
	done     chan struct{} // closed when the worker exits
	seq      int           // cycle counter, worker-owned once started
	errs     int           // consecutive failures, worker-owned
	session  string
	seeded   bool
	lastErr  error
}

// Option configures a Loop.
type Option func(*Loop)

func WithLogger(log *logger.Logger) Option {
	return func(l *Loop) { l.log = log }
}

func WithPolicy(p Policy) Option {
	return func(l *Loop) { l.policy = p.normalized() }
}

// WithStats records every committed cycle and opens one stats session per
// run.
func WithStats(c *stats.Collector) Option {
	return func(l *Loop) { l.stats = c }
}

// WithCycleLogs writes a per-session trace of every reading.
func WithCycleLogs(r *cyclelog.Registry) Option {
	return func(l *Loop) { l.cycles = r }
}

// WithExportDir writes each finished stats session to dir as JSON and CSV.
func WithExportDir(dir string) Option {
	return func(l *Loop) { l.exports = dir }
}

func WithModel(m *state.Model) Option {
	return func(l *Loop) { l.model = m }
}

func WithReconciler(r *reconcile.Reconciler) Option {
	return func(l *Loop) { l.recon = r }
}

// New creates an idle loop. b may be nil when nobody observes.
func New(game Game, strat strategy.Strategy, b *bus.Bus, opts ...Option) *Loop {
	l := &Loop{
		game:   game,
		strat:  strat,
		bus:    b,
		policy: DefaultPolicy(),
		status: types.StatusIdle,
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	if l.bus == nil {
		l.bus = bus.New(l.log)
	}
	if l.model == nil {
		l.model = state.New(nil)
	}
	if l.recon == nil {
		l.recon = reconcile.New(l.log)
	}
	return l
}

// ---------------------------------------------------------------------------
// Control surface — safe from any goroutine
// ---------------------------------------------------------------------------

// Start launches the worker. ctx bounds the whole run: cancelling it aborts
// every wait immediately, unlike Stop which waits for the iteration boundary.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.alive {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.alive = true
	l.paused = false
	l.stopping = false
	l.lastErr = nil
	l.errs = 0
	l.gate = make(chan struct{})
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	done := l.done
	from := l.swapStatus(types.StatusRunning)
	l.mu.Unlock()

	l.announce(from, types.StatusRunning, "start")
	go l.run(ctx, done)
	return nil
}

// Pause makes the worker block at the top of its next iteration. A cycle in
// flight completes first.
func (l *Loop) Pause() error {
	l.mu.Lock()
	if !l.alive || l.paused || l.stopping {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.paused = true
	l.gate = make(chan struct{})
	from := l.swapStatus(types.StatusPaused)
	l.mu.Unlock()
	l.announce(from, types.StatusPaused, "pause")
	return nil
}

// Resume releases a paused worker.
func (l *Loop) Resume() error {
	l.mu.Lock()
	if !l.alive || !l.paused {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.paused = false
	close(l.gate)
	from := l.swapStatus(types.StatusRunning)
	l.mu.Unlock()
	l.announce(from, types.StatusRunning, "resume")
	return nil
}

// Stop asks the worker to exit at the next iteration boundary and waits for
// it, or for ctx. A pending pause-wait and inter-action delay are released.
//
// Expectations:
//   - Returns ErrNotRunning when no worker is alive
//   - Never interrupts a cycle in flight
//   - Returns ctx.Err() if the worker has not exited before ctx is done
//   - Calling it twice is harmless
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.alive {
		l.mu.Unlock()
		return ErrNotRunning
	}
	if !l.stopping {
		l.stopping = true
		close(l.stopCh)
		if l.paused {
			l.paused = false
			close(l.gate)
		}
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current worker exits. Before the first Start it
// returns nil.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) Status() types.LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// State returns a copy of the game state.
func (l *Loop) State() types.GameState { return l.model.Snapshot() }

// Err returns the fatal error of the last run, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Session returns the current or last session ID.
func (l *Loop) Session() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *Loop) Policy() Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policy
}

// UpdatePolicy replaces the policy; a running worker picks it up at its next
// iteration.
func (l *Loop) UpdatePolicy(p Policy) {
	p = p.normalized()
	l.mu.Lock()
	l.policy = p
	l.mu.Unlock()
	l.log.Info("[LOOP] policy updated",
		"action_delay", p.ActionDelay, "max_errors", p.MaxConsecutiveErrors, "min_gold", p.MinGold)
}

// SetStrategy replaces the strategy between iterations.
func (l *Loop) SetStrategy(s strategy.Strategy) {
	l.mu.Lock()
	l.strat = s
	l.mu.Unlock()
	l.log.Info("[LOOP] strategy set", "name", s.Name())
}

func (l *Loop) Strategy() strategy.Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.strat
}

// Reset clears the game state. Rejected while the worker is alive.
func (l *Loop) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.alive {
		return ErrAlreadyRunning
	}
	l.model.Reset()
	l.seeded = false
	l.status = types.StatusIdle
	return nil
}

// Step runs exactly one enhance or sell cycle on the calling goroutine and
// returns the committed event. It is rejected while the worker is alive. The
// state is seeded from the profile first if no session has done so.
func (l *Loop) Step(ctx context.Context, a types.Action) (types.OutcomeEvent, error) {
	if a != types.ActionEnhance && a != types.ActionSell {
		return types.OutcomeEvent{}, fmt.Errorf("step: unsupported action %q", a)
	}
	l.mu.Lock()
	if l.alive {
		l.mu.Unlock()
		return types.OutcomeEvent{}, ErrAlreadyRunning
	}
	l.alive = true
	p, seeded := l.policy, l.seeded
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.alive = false
		l.mu.Unlock()
	}()

	if !seeded {
		_ = l.seed(ctx, p)
	}
	ev, err := l.execute(ctx, p, a)
	if err != nil {
		l.publishError(err, 0)
	}
	return ev, err
}

// Sync re-reads the profile and overwrites the state with it. Rejected while
// the worker is alive.
func (l *Loop) Sync(ctx context.Context) (types.GameState, error) {
	l.mu.Lock()
	if l.alive {
		l.mu.Unlock()
		return types.GameState{}, ErrAlreadyRunning
	}
	l.alive = true
	p := l.policy
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.alive = false
		l.mu.Unlock()
	}()

	if err := l.seed(ctx, p); err != nil {
		return l.model.Snapshot(), err
	}
	return l.model.Snapshot(), nil
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	p := l.Policy()
	session := l.beginSession(ctx, p)
	final, reason := l.body(ctx)
	l.endSession(session, final)

	// The final status is set with alive cleared so a racing Pause either
	// lands before it or is rejected.
	l.mu.Lock()
	l.alive = false
	l.paused = false
	from := l.swapStatus(final)
	l.mu.Unlock()
	l.announce(from, final, reason)
	close(done)
}

// body is the iteration loop. It returns the terminal status and why.
func (l *Loop) body(ctx context.Context) (types.LoopStatus, string) {
	for {
		if l.stopRequested() {
			return types.StatusStopped, "stop requested"
		}
		if err := l.awaitGate(ctx); err != nil {
			return types.StatusStopped, "context cancelled"
		}
		if l.stopRequested() {
			return types.StatusStopped, "stop requested"
		}

		l.mu.Lock()
		p, strat := l.policy, l.strat
		l.mu.Unlock()

		if snap := l.model.Snapshot(); p.MinGold > 0 && snap.Gold < p.MinGold {
			l.log.Info("[LOOP] gold below floor, stopping", "gold", snap.Gold, "min_gold", p.MinGold)
			return types.StatusStopped, fmt.Sprintf("gold %d below floor %d", snap.Gold, p.MinGold)
		}

		action, err := l.iterate(ctx, p, strat)
		switch {
		case err == nil:
			l.errs = 0
		case ctx.Err() != nil:
			return types.StatusStopped, "context cancelled"
		case errors.Is(err, reconcile.ErrExhausted):
			l.errs = 0
			l.publishError(err, 0)
		default:
			l.errs++
			l.publishError(err, l.errs)
			if l.errs >= p.MaxConsecutiveErrors {
				fatal := fmt.Errorf("%w: %d in a row, last: %v", ErrFatal, l.errs, err)
				l.mu.Lock()
				l.lastErr = fatal
				l.mu.Unlock()
				l.log.Error("[LOOP] fatal", "error", fatal)
				l.bus.Publish(types.Message{
					From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgError,
					Payload: types.ErrorEvent{Cycle: l.seq, Kind: types.ErrKindFatal, Message: fatal.Error(), Consecutive: l.errs},
				})
				return types.StatusError, fatal.Error()
			}
			if err := l.delay(ctx, p.errorBackoff()); err != nil {
				return types.StatusStopped, "context cancelled"
			}
			continue
		}

		if action == types.ActionStop {
			return types.StatusStopped, "strategy stop"
		}
		if err := l.delay(ctx, p.ActionDelay); err != nil {
			return types.StatusStopped, "context cancelled"
		}
	}
}

// iterate asks the strategy and executes its decision. A panic anywhere in
// it is recovered into an error.
func (l *Loop) iterate(ctx context.Context, p Policy, strat strategy.Strategy) (a types.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			l.log.Error("[LOOP] recovered panic", "cycle", l.seq, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	a = strat.Decide(l.model.Snapshot())
	switch a {
	case types.ActionEnhance, types.ActionSell:
		_, err = l.execute(ctx, p, a)
	case types.ActionWait, types.ActionStop:
	default:
		err = fmt.Errorf("strategy %s returned unknown action %q", strat.Name(), a)
	}
	return a, err
}

// execute runs one reconciled cycle and commits it.
func (l *Loop) execute(ctx context.Context, p Policy, a types.Action) (types.OutcomeEvent, error) {
	l.seq++
	seq := l.seq
	snap := l.model.Snapshot()
	cmd := p.Commands.Enhance
	if a == types.ActionSell {
		cmd = p.Commands.Sell
	}
	trace := l.cycles.Get(l.Session())

	res, err := l.recon.Resolve(ctx, reconcile.Cycle{
		Seq:     seq,
		Current: snap,
		Action:  a,
		Trigger: func(ctx context.Context) error { return l.game.SendCommand(ctx, cmd) },
		Read:    l.game.TakeReading,
		Profile: func(ctx context.Context) (*types.ProfileSnapshot, error) { return l.readProfile(ctx, p) },
		Ladder:  p.Ladder.For(snap.Level),
		Timing:  p.Timing,
		Trace:   trace,
	})
	if err != nil {
		return types.OutcomeEvent{}, err
	}

	tr := l.recon.Commit(l.model, res)
	if l.stats != nil {
		switch a {
		case types.ActionEnhance:
			l.stats.RecordEnhance(tr.Before.Level, res.Outcome.Kind, tr.Before.Gold, tr.After.Gold)
		case types.ActionSell:
			l.stats.RecordSell(tr.After.Gold)
		}
	}

	ev := types.OutcomeEvent{
		Cycle:    seq,
		Action:   a,
		Outcome:  res.Outcome,
		PreLevel: tr.Before.Level,
		Attempts: res.Attempts,
		Offset:   res.Offset,
		Source:   res.Source,
		Repair:   res.Repair,
		State:    tr.After,
	}
	l.log.Info("[LOOP] cycle committed", "cycle", seq, "action", a, "kind", res.Outcome.Kind,
		"level", fmt.Sprintf("%d→%d", tr.Before.Level, tr.After.Level), "gold", tr.After.Gold, "source", res.Source)
	l.bus.Publish(types.Message{From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgOutcome, Payload: ev})
	l.bus.Publish(types.Message{From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgStateChanged, Payload: tr.After})
	return ev, nil
}

// readProfile sends the profile command and parses the reply. A nil snapshot
// with nil error means the reply was not recognizable.
func (l *Loop) readProfile(ctx context.Context, p Policy) (*types.ProfileSnapshot, error) {
	if err := l.game.SendCommand(ctx, p.Commands.Profile); err != nil {
		return nil, fmt.Errorf("send profile: %w", err)
	}
	if err := wait.Sleep(ctx, p.ProfileDelay); err != nil {
		return nil, err
	}
	text, err := l.game.TakeReading(ctx, p.Ladder.ProfileOffset())
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return parser.ExtractProfile(text), nil
}

// seed overwrites the state from one profile read. Failure leaves the state
// as it was.
func (l *Loop) seed(ctx context.Context, p Policy) error {
	snap, err := l.readProfile(ctx, p)
	if err == nil && snap == nil {
		err = errNoProfile
	}
	if err != nil {
		l.log.Warn("[LOOP] profile seed failed, keeping current state", "error", err)
		return err
	}
	st := l.model.Seed(*snap)
	l.mu.Lock()
	l.seeded = true
	l.mu.Unlock()
	l.log.Info("[LOOP] state seeded from profile", "level", st.Level, "gold", st.Gold, "item", st.LastItemName)
	l.bus.Publish(types.Message{From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgStateChanged, Payload: st})
	return nil
}

func (l *Loop) beginSession(ctx context.Context, p Policy) string {
	_ = l.seed(ctx, p)
	id := uuid.New().String()
	if l.stats != nil {
		id = l.stats.StartSession(l.model.Snapshot().Gold).ID
	}
	l.mu.Lock()
	l.session = id
	l.seq = 0
	l.mu.Unlock()
	l.cycles.Open(id)
	l.log.Info("[LOOP] session started", "session", id)
	return id
}

func (l *Loop) endSession(id string, final types.LoopStatus) {
	if l.stats != nil {
		if s, ok := l.stats.EndSession(); ok && l.exports != "" {
			jsonPath, _, err := stats.ExportSession(l.exports, s, time.Now())
			if err != nil {
				l.log.Warn("[LOOP] session export failed", "session", s.ID, "error", err)
			} else {
				l.log.Info("[LOOP] session exported", "path", jsonPath)
			}
		}
	}
	l.cycles.Close(id, string(final))
	l.log.Info("[LOOP] session ended", "session", id, "status", final, "cycles", l.seq)
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (l *Loop) stopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *Loop) awaitGate(ctx context.Context) error {
	l.mu.Lock()
	paused, gate := l.paused, l.gate
	l.mu.Unlock()
	if !paused {
		return nil
	}
	l.log.Debug("[LOOP] paused")
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delay sleeps d; Stop cuts it short without error.
func (l *Loop) delay(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	stopCh := l.stopCh
	l.mu.Unlock()
	return wait.Until(ctx, d, stopCh)
}

// swapStatus sets the status and returns the previous one. Callers hold l.mu
// together with whatever liveness check justifies the change.
func (l *Loop) swapStatus(to types.LoopStatus) types.LoopStatus {
	from := l.status
	l.status = to
	return from
}

// announce logs and publishes a status change made by swapStatus.
func (l *Loop) announce(from, to types.LoopStatus, reason string) {
	if from == to {
		return
	}
	l.log.Info("[LOOP] status", "from", from, "to", to, "reason", reason)
	l.bus.Publish(types.Message{
		From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgLoopStatus,
		Payload: types.StatusEvent{From: from, To: to, Reason: reason},
	})
}

func (l *Loop) publishError(err error, consecutive int) {
	kind := types.ErrKindIO
	var pe *panicError
	switch {
	case errors.Is(err, reconcile.ErrExhausted):
		kind = types.ErrKindExhausted
	case errors.As(err, &pe):
		kind = types.ErrKindPanic
	}
	l.log.Warn("[LOOP] cycle error", "cycle", l.seq, "kind", kind, "consecutive", consecutive, "error", err)
	l.bus.Publish(types.Message{
		From: types.RoleLoop, To: types.RoleObserver, Type: types.MsgError,
		Payload: types.ErrorEvent{Cycle: l.seq, Kind: kind, Message: err.Error(), Consecutive: consecutive},
	})
}
