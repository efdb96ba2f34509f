// Package policy builds the engine's per-key decisions from the daemon
// configuration.
package policy

import (
	"fmt"
	"strings"
	"time"

	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/keycode"
)

type pair struct {
	pending keycode.Keycode
	other   keycode.Keycode
}

// Default is the configured policy. It implements chord.Policy and
// chord.StreakPolicy and is immutable once built, so a reload builds a
// new one and swaps it in.
type Default struct {
	defaultTimeout time.Duration
	perKey         map[keycode.Keycode]time.Duration
	pairs          map[pair]time.Duration

	rows, cols          uint8
	split               bool
	holdOnOtherModifier bool
	sameHand            map[keycode.Keycode]bool

	eagerEnabled bool
	eager        keycode.ModMask

	streakEnabled bool
	streakTimeout time.Duration
	streakExpiry  time.Duration
	continueKeys  map[keycode.Keycode]bool
}

var (
	_ chord.Policy       = (*Default)(nil)
	_ chord.StreakPolicy = (*Default)(nil)
)

// New builds the policy from cfg.
func New(cfg *config.Config) (*Default, error) {
	d := &Default{
		defaultTimeout:      ms(cfg.Timeouts.DefaultMs),
		perKey:              make(map[keycode.Keycode]time.Duration, len(cfg.Timeouts.PerKey)),
		pairs:               make(map[pair]time.Duration, len(cfg.Timeouts.Pairs)),
		rows:                uint8(cfg.Chord.Rows),
		cols:                uint8(cfg.Chord.Cols),
		split:               cfg.Chord.Split,
		holdOnOtherModifier: cfg.Chord.HoldOnOtherModifier,
		sameHand:            make(map[keycode.Keycode]bool, len(cfg.Chord.SameHandHoldKeys)),
		eagerEnabled:        cfg.Eager.Enabled,
		streakEnabled:       cfg.Streak.Enabled,
		streakTimeout:       ms(cfg.Streak.TimeoutMs),
		streakExpiry:        ms(cfg.Streak.ExpiryMs),
		continueKeys:        make(map[keycode.Keycode]bool, len(cfg.Streak.ContinueKeys)),
	}

	for spec, timeout := range cfg.Timeouts.PerKey {
		kc, err := keycode.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("timeouts.per_key: %w", err)
		}
		d.perKey[kc] = ms(timeout)
	}

	for i, p := range cfg.Timeouts.Pairs {
		pending, err := keycode.Parse(p.Pending)
		if err != nil {
			return nil, fmt.Errorf("timeouts.pairs[%d].pending: %w", i, err)
		}
		other, err := keycode.Parse(p.Other)
		if err != nil {
			return nil, fmt.Errorf("timeouts.pairs[%d].other: %w", i, err)
		}
		d.pairs[pair{pending, other}] = ms(p.TimeoutMs)
	}

	for _, spec := range cfg.Chord.SameHandHoldKeys {
		kc, err := keycode.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("chord.same_hand_hold_keys: %w", err)
		}
		d.sameHand[kc] = true
	}

	for _, spec := range cfg.Eager.Mods {
		m, err := keycode.ParseModMask(spec)
		if err != nil {
			return nil, fmt.Errorf("eager.mods: %w", err)
		}
		d.eager |= m
	}

	for _, spec := range cfg.Streak.ContinueKeys {
		kc, err := keycode.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("streak.continue_keys: %w", err)
		}
		d.continueKeys[kc.TapKeycode()] = true
	}

	return d, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// HoldTimeout returns the per-key timeout or the default.
func (d *Default) HoldTimeout(pending keycode.Keycode) time.Duration {
	if t, ok := d.perKey[pending]; ok {
		return t
	}
	return d.defaultTimeout
}

// Chord decides hold when the two keys are on opposite hands, when the
// other key is a modifier, or when pending is a same-hand hold key. An
// undecided dual-role key counts as a modifier so home row mods stack.
func (d *Default) Chord(pending keycode.Keycode, pendingRec *chord.Record, other keycode.Keycode, otherRec *chord.Record) bool {
	if d.sameHand[pending] {
		return true
	}
	if d.holdOnOtherModifier && (other.IsModifier() || undecided(other, otherRec)) {
		return true
	}
	return OppositeHands(pendingRec.Key, otherRec.Key, d.rows, d.cols, d.split)
}

func undecided(kc keycode.Keycode, rec *chord.Record) bool {
	return kc.IsTapHold() && rec.Tap.Count == 0 && rec.IsKeyEvent()
}

// EagerMod accepts mods that are all within the configured eager set.
func (d *Default) EagerMod(mods keycode.ModMask) bool {
	return mods != 0 && mods&^d.eager == 0
}

// EagerEnabled reports whether eager mods are switched on.
func (d *Default) EagerEnabled() bool {
	return d.eagerEnabled
}

// StreakContinue reports whether typing kc keeps a streak going. Holding
// Ctrl, Alt or GUI breaks it since those are shortcuts, not typing.
func (d *Default) StreakContinue(kc keycode.Keycode, held keycode.ModMask) bool {
	if held&(keycode.MaskCtrl|keycode.MaskAlt|keycode.MaskGUI) != 0 {
		return false
	}
	kc = kc.TapKeycode()
	return kc.IsLetter() || d.continueKeys[kc]
}

// StreakTimeout returns the pair override for (pending, next), matching
// next exactly and then by its tap keycode, or the streak timeout.
func (d *Default) StreakTimeout(pending, next keycode.Keycode) time.Duration {
	if t, ok := d.pairs[pair{pending, next}]; ok {
		return t
	}
	if t, ok := d.pairs[pair{pending, next.TapKeycode()}]; ok {
		return t
	}
	return d.streakTimeout
}

// Streak returns d as a chord.StreakPolicy, or nil when streaks are
// disabled. The nil must be untyped for the engine's nil check.
func (d *Default) Streak() chord.StreakPolicy {
	if !d.streakEnabled {
		return nil
	}
	return d
}

// StreakExpiry returns the configured streak expiry; zero selects the
// engine default.
func (d *Default) StreakExpiry() time.Duration {
	return d.streakExpiry
}

// OppositeHands reports whether a and b are pressed by different hands.
// Split boards put each half on its own rows; other boards are divided
// across their longer dimension.
func OppositeHands(a, b keycode.Pos, rows, cols uint8, split bool) bool {
	if split || cols <= rows {
		return (a.Row < rows/2) != (b.Row < rows/2)
	}
	return (a.Col < cols/2) != (b.Col < cols/2)
}

// Describe summarises the policy for logs and the control CLI.
func (d *Default) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timeout=%s per_key=%d pairs=%d", d.defaultTimeout, len(d.perKey), len(d.pairs))
	if d.eagerEnabled {
		fmt.Fprintf(&b, " eager=%s", d.eager)
	}
	if d.streakEnabled {
		fmt.Fprintf(&b, " streak=%s/%s", d.streakTimeout, d.streakExpiry)
	}
	return b.String()
}
