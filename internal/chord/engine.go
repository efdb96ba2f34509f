package chord

import (
	"errors"
	"log/slog"
	"time"

	"chordd/internal/keycode"
)

// DefaultStreakExpiry is how long a typing streak survives without a
// continuing keystroke.
const DefaultStreakExpiry = 800 * time.Millisecond

var (
	// ErrNoHost is returned by New when no host pipeline is supplied.
	ErrNoHost = errors.New("chord: host pipeline is required")
	// ErrNoPolicy is returned by New when no policy is supplied.
	ErrNoPolicy = errors.New("chord: policy is required")
)

// Config configures an Engine.
type Config struct {
	// Policy decides timeouts, chords and eager mods. Required.
	Policy Policy

	// Streak enables typing-streak detection when non-nil.
	Streak StreakPolicy

	// StreakExpiry clears an idle streak. Defaults to DefaultStreakExpiry.
	StreakExpiry time.Duration

	// EagerMods applies the mods of mod-tap keys at press time when the
	// policy's EagerMod accepts them.
	EagerMods bool

	// TapCodeDelay is waited between a synthetic tap press and release.
	TapCodeDelay time.Duration

	// Logger receives decision traces at debug level.
	Logger *slog.Logger

	// Observers are notified of every settlement.
	Observers []Observer
}

// Pending is the dual-role key currently owned by the engine.
type Pending struct {
	Keycode  keycode.Keycode
	Record   Record
	Deadline time.Time
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	State             State
	Pending           keycode.Keycode
	EagerMods         keycode.ModMask
	AnotherKeyPressed bool
	StreakActive      bool
}

// Engine is the chord resolution state machine. It is not safe for
// concurrent use.
type Engine struct {
	host         Host
	policy       Policy
	streak       StreakPolicy
	streakExpiry time.Duration
	eager        bool
	tapCodeDelay time.Duration
	log          *slog.Logger
	observers    []Observer

	state             State
	pending           Pending
	eagerMods         keycode.ModMask
	anotherKeyPressed bool
	streakTimer       time.Time
	retired           []keycode.Pos
}

// New creates an engine bound to host.
func New(host Host, cfg Config) (*Engine, error) {
	if host == nil {
		return nil, ErrNoHost
	}
	if cfg.Policy == nil {
		return nil, ErrNoPolicy
	}
	if cfg.StreakExpiry <= 0 {
		cfg.StreakExpiry = DefaultStreakExpiry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		host:         host,
		policy:       cfg.Policy,
		streak:       cfg.Streak,
		streakExpiry: cfg.StreakExpiry,
		eager:        cfg.EagerMods,
		tapCodeDelay: cfg.TapCodeDelay,
		log:          cfg.Logger,
		observers:    cfg.Observers,
		state:        StateReleased,
	}, nil
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Pending returns the pending key, if any.
func (e *Engine) Pending() (Pending, bool) {
	if e.state == StateReleased {
		return Pending{}, false
	}
	return e.pending, true
}

// Bypasses reports whether the engine leaves dual-role key kc to the host
// because the policy gives it no hold timeout.
func (e *Engine) Bypasses(kc keycode.Keycode) bool {
	return kc.IsTapHold() && e.policy.HoldTimeout(kc) <= 0
}

// Snapshot returns a view of the engine state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:             e.state,
		Pending:           e.pending.Keycode,
		EagerMods:         e.eagerMods,
		AnotherKeyPressed: e.anotherKeyPressed,
		StreakActive:      !e.streakTimer.IsZero(),
	}
}

// SetPolicy swaps the policies. The pending key keeps the deadline it was
// latched with.
func (e *Engine) SetPolicy(p Policy, streak StreakPolicy) {
	if p != nil {
		e.policy = p
	}
	e.streak = streak
	if streak == nil {
		e.streakTimer = time.Time{}
	}
}

// Reset drops the pending key and all bookkeeping without notifying the
// host. Used after the host has been reset, e.g. following a recovered
// panic.
func (e *Engine) Reset() {
	e.state = StateReleased
	e.pending = Pending{}
	e.eagerMods = 0
	e.anotherKeyPressed = false
	e.streakTimer = time.Time{}
	e.retired = nil
}

// Reconfigure applies the policies and timing of cfg. Logger and
// Observers are left as they are. The pending key keeps the deadline it
// was latched with and eager mods already applied stay until it settles.
func (e *Engine) Reconfigure(cfg Config) error {
	if cfg.Policy == nil {
		return ErrNoPolicy
	}
	if cfg.StreakExpiry <= 0 {
		cfg.StreakExpiry = DefaultStreakExpiry
	}
	e.SetPolicy(cfg.Policy, cfg.Streak)
	e.streakExpiry = cfg.StreakExpiry
	e.eager = cfg.EagerMods
	e.tapCodeDelay = cfg.TapCodeDelay
	return nil
}

// AddObserver registers o for settlement notifications.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Process inspects one key transition before the host handles it. It
// returns false when the host must skip its normal handling of rec.
func (e *Engine) Process(kc keycode.Keycode, rec *Record) bool {
	if e.state == StateRecursing {
		return true
	}

	if e.state != StateUnsettled && e.undecided(kc, rec) {
		if timeout := e.policy.HoldTimeout(kc); timeout > 0 {
			e.retire()
			e.latch(kc, rec, timeout)
			return false
		}
	}

	if !rec.Pressed && (e.state == StateReleased || kc != e.pending.Keycode) {
		e.checkUnrelatedRelease(kc, rec)
	}

	if e.state == StateReleased {
		e.updateStreak(kc, rec)
		return true
	}

	if rec.Pressed && kc != e.pending.Keycode {
		e.anotherKeyPressed = true
	}

	if kc == e.pending.Keycode && !rec.Pressed {
		e.release(rec)
		return false
	}

	if e.state == StateUnsettled && rec.Pressed {
		e.resolveChord(kc, rec)
		return false
	}

	e.updateStreak(kc, rec)
	return true
}

// Tick settles the pending key as held once its deadline has passed and
// expires an idle typing streak.
func (e *Engine) Tick(now time.Time) {
	if e.state == StateUnsettled && !now.Before(e.pending.Deadline) {
		e.settleAsHold(now, ReasonTimeout, keycode.None)
	}
	if !e.streakTimer.IsZero() && !now.Before(e.streakTimer.Add(e.streakExpiry)) {
		e.streakTimer = time.Time{}
	}
}

// undecided reports whether rec is a matrix press of a dual-role key the
// host has not resolved yet.
func (e *Engine) undecided(kc keycode.Keycode, rec *Record) bool {
	return kc.IsTapHold() && rec.Pressed && rec.Tap.Count == 0 && rec.IsKeyEvent()
}

func (e *Engine) latch(kc keycode.Keycode, rec *Record, timeout time.Duration) {
	e.state = StateUnsettled
	e.pending = Pending{
		Keycode:  kc,
		Record:   *rec,
		Deadline: rec.Time.Add(timeout),
	}
	e.anotherKeyPressed = false
	e.eagerMods = 0

	if e.eager && kc.IsModTap() {
		mods := kc.ModTapMods().Mask()
		if e.policy.EagerMod(mods) {
			e.eagerMods = mods
			e.host.ProcessAction(&e.pending.Record, Action{Kind: ActionModTap, Mods: mods, Tap: kc.TapKeycode()})
		}
	}

	e.log.Debug("dual-role key pending", "key", kc, "timeout", timeout, "eager", e.eagerMods)
}

// retire hands a settled pending key over to the host so a new dual-role
// key can be latched. The host's normal release path ends it.
//
// This is the one way the engine returns to StateReleased while the
// original key is still down: a tapping or holding key is retired by the
// next dual-role press, not by its own release.
func (e *Engine) retire() {
	if e.state == StateTapping || e.state == StateHolding {
		e.log.Debug("retiring settled key", "key", e.pending.Keycode, "state", e.state)
		e.retired = append(e.retired, e.pending.Record.Key)
	}
	e.pending = Pending{}
	e.eagerMods = 0
	e.state = StateReleased
}

// checkUnrelatedRelease drops the bookkeeping of a retired key and flags a
// dual-role release whose press the engine never saw.
func (e *Engine) checkUnrelatedRelease(kc keycode.Keycode, rec *Record) {
	for i, pos := range e.retired {
		if pos == rec.Key {
			e.retired = append(e.retired[:i], e.retired[i+1:]...)
			return
		}
	}
	if kc.IsTapHold() && rec.IsKeyEvent() && rec.Tap.Count == 0 && e.policy.HoldTimeout(kc) > 0 {
		e.log.Debug("release of dual-role key that was never pending", "key", kc, "row", rec.Key.Row, "col", rec.Key.Col)
	}
}

func (e *Engine) release(rec *Record) {
	switch e.state {
	case StateHolding:
		e.log.Debug("pending key released, plumbing hold release", "key", e.pending.Keycode)
		hold := e.pending.Record
		hold.Pressed = false
		hold.Time = rec.Time
		e.replay(&hold, StateReleased)
	case StateUnsettled:
		e.settleAsTap(rec.Time, ReasonRelease, keycode.None)
	case StateTapping:
		e.log.Debug("pending key released after tap", "key", e.pending.Keycode)
	}
	e.pending = Pending{}
	e.eagerMods = 0
	e.state = StateReleased
}

// resolveChord settles the pending key because another key went down, then
// delivers the triggering press.
func (e *Engine) resolveChord(kc keycode.Keycode, rec *Record) {
	streak := e.inStreak(kc, rec)

	switch {
	case streak:
		e.settleAsTap(rec.Time, ReasonStreak, kc)
	case !rec.IsKeyEvent():
		e.settleAsHold(rec.Time, ReasonNonKey, kc)
	case e.policy.Chord(e.pending.Keycode, &e.pending.Record, kc, rec):
		e.settleAsHold(rec.Time, ReasonChord, kc)
	default:
		e.settleAsTap(rec.Time, ReasonNoChord, kc)
	}

	// A layer-tap settled as hold changes what the trigger is.
	kc = e.host.Resolve(rec)
	e.updateStreak(kc, rec)

	if e.undecided(kc, rec) {
		if timeout := e.policy.HoldTimeout(kc); timeout > 0 {
			e.retire()
			e.latch(kc, rec, timeout)
			return
		}
	}

	e.replay(rec, e.state)
}

func (e *Engine) settleAsHold(at time.Time, reason Reason, other keycode.Keycode) {
	eager := e.eagerMods != 0
	if eager {
		e.state = StateHolding
	} else {
		e.replay(&e.pending.Record, StateHolding)
	}
	e.notify(OutcomeHold, reason, other, eager, at)
}

func (e *Engine) settleAsTap(at time.Time, reason Reason, other keycode.Keycode) {
	eager := e.eagerMods != 0
	rec := &e.pending.Record
	if eager {
		// Released as plain mods, not as a mod-tap release, so the host
		// does not mistake it for a retro tap.
		rec.Pressed = false
		e.host.ProcessAction(rec, Action{Kind: ActionMods, Mods: e.eagerMods})
		e.eagerMods = 0
	}

	rec.Pressed = true
	rec.Tap.Count = 1
	rec.Tap.Interrupted = true
	e.replay(rec, StateTapping)

	e.host.SendReport()
	if e.tapCodeDelay > 0 {
		e.host.Wait(e.tapCodeDelay)
	}

	release := *rec
	release.Pressed = false
	release.Time = at
	e.replay(&release, StateTapping)

	e.notify(OutcomeTap, reason, other, eager, at)
}

// replay runs rec through the host with the engine in StateRecursing and
// leaves the engine in next.
func (e *Engine) replay(rec *Record, next State) {
	if e.state == StateRecursing {
		panic("chord: nested replay")
	}
	e.state = StateRecursing
	e.host.ProcessRecord(rec)
	e.state = next
}

func (e *Engine) inStreak(next keycode.Keycode, rec *Record) bool {
	if e.streak == nil || e.streakTimer.IsZero() {
		return false
	}
	window := e.streak.StreakTimeout(e.pending.Keycode, next)
	return window > 0 && rec.Time.Before(e.streakTimer.Add(window))
}

func (e *Engine) updateStreak(kc keycode.Keycode, rec *Record) {
	if e.streak == nil {
		return
	}
	if e.streak.StreakContinue(kc, e.host.Mods()) {
		e.streakTimer = rec.Time
	} else {
		e.streakTimer = time.Time{}
	}
}

func (e *Engine) notify(outcome Outcome, reason Reason, other keycode.Keycode, eager bool, at time.Time) {
	s := Settlement{
		Keycode: e.pending.Keycode,
		Key:     e.pending.Record.Key,
		Outcome: outcome,
		Reason:  reason,
		Other:   other,
		Eager:   eager,
		Pressed: e.pending.Record.Time,
		Settled: at,
	}
	e.log.Debug("settled", "key", s.Keycode, "outcome", outcome, "reason", reason, "other", other, "latency", s.Latency())
	for _, o := range e.observers {
		o.Settled(s)
	}
}
