package chord

import (
	"time"

	"chordd/internal/keycode"
)

// EventType distinguishes matrix key events from other record sources.
type EventType uint8

const (
	KeyEvent EventType = iota
	ComboEvent
	EncoderEvent
)

// TapInfo is the host's tap bookkeeping for a record. A dual-role press
// with Count == 0 is one the host has not resolved yet.
type TapInfo struct {
	Count       uint8
	Interrupted bool
}

// Record is one key transition.
type Record struct {
	Key     keycode.Pos
	Pressed bool
	Time    time.Time
	Type    EventType
	Tap     TapInfo
}

// IsKeyEvent reports whether r comes from the key matrix.
func (r *Record) IsKeyEvent() bool {
	return r.Type == KeyEvent
}

// ActionKind selects how Host.ProcessAction applies an Action.
type ActionKind uint8

const (
	// ActionModTap applies Mods as the held side of a mod-tap key.
	ActionModTap ActionKind = iota
	// ActionMods applies Mods as plain modifiers.
	ActionMods
)

// Action is applied directly, bypassing the host's record pipeline.
// Record.Pressed decides whether the mods are registered or unregistered.
type Action struct {
	Kind ActionKind
	Mods keycode.ModMask
	Tap  keycode.Keycode
}

// Host is the key-processing pipeline the engine plugs into.
type Host interface {
	// ProcessRecord runs rec through the full host pipeline. The host
	// calls Engine.Process from here; during replays it passes through.
	ProcessRecord(rec *Record)
	// Resolve looks up a held-back press again after the pending key has
	// settled. Later replays and the release of rec must use the result.
	Resolve(rec *Record) keycode.Keycode
	// ProcessAction applies act without going through the pipeline.
	ProcessAction(rec *Record, act Action)
	// SendReport flushes pending output to the computer.
	SendReport()
	// Wait blocks for d. Only used for the bounded tap code delay.
	Wait(d time.Duration)
	// Mods returns the modifiers currently held.
	Mods() keycode.ModMask
}

// Policy supplies per-key decisions.
type Policy interface {
	// HoldTimeout returns how long pending may be held alone before it
	// settles as hold. Zero leaves the key to the host.
	HoldTimeout(pending keycode.Keycode) time.Duration
	// Chord reports whether pressing other while pending is undecided
	// means pending is held.
	Chord(pending keycode.Keycode, pendingRec *Record, other keycode.Keycode, otherRec *Record) bool
	// EagerMod reports whether mods may be applied at press time.
	EagerMod(mods keycode.ModMask) bool
}

// StreakPolicy enables typing-streak detection. During a streak a chord
// always settles the pending key as tapped.
type StreakPolicy interface {
	// StreakContinue reports whether kc, typed while held mods are down,
	// extends the streak.
	StreakContinue(kc keycode.Keycode, held keycode.ModMask) bool
	// StreakTimeout returns how long after the last streak keystroke a
	// press of next still counts as part of the streak while pending is
	// undecided. Zero disables the streak for this pair.
	StreakTimeout(pending, next keycode.Keycode) time.Duration
}

// Settlement describes one tap/hold decision.
type Settlement struct {
	Keycode keycode.Keycode
	Key     keycode.Pos
	Outcome Outcome
	Reason  Reason
	Other   keycode.Keycode
	Eager   bool
	Pressed time.Time
	Settled time.Time
}

// Latency is the time from press to decision.
func (s Settlement) Latency() time.Duration {
	return s.Settled.Sub(s.Pressed)
}

// Observer is notified after every settlement. Observers run on the
// engine's goroutine and must not block.
type Observer interface {
	Settled(s Settlement)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s Settlement)

// Settled calls f(s).
func (f ObserverFunc) Settled(s Settlement) { f(s) }
