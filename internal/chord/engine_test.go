package chord

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordd/internal/keycode"
)

var (
	shiftA = keycode.ModTap(keycode.ModShift, keycode.A)
	ctrlS  = keycode.ModTap(keycode.ModCtrl, keycode.S)
	altL   = keycode.ModTap(keycode.ModAlt|keycode.ModRight, keycode.L)
	layerJ = keycode.LayerTap(1, keycode.J)

	posA = keycode.Pos{Row: 2, Col: 1}
	posS = keycode.Pos{Row: 2, Col: 2}
	posJ = keycode.Pos{Row: 2, Col: 7}
	posK = keycode.Pos{Row: 2, Col: 8}
	posL = keycode.Pos{Row: 2, Col: 9}
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// testPolicy is a configurable Policy/StreakPolicy.
type testPolicy struct {
	timeout       time.Duration
	chord         func(pending, other keycode.Keycode) bool
	eager         keycode.ModMask
	streakTimeout time.Duration
}

func (p *testPolicy) HoldTimeout(keycode.Keycode) time.Duration { return p.timeout }

func (p *testPolicy) Chord(pending keycode.Keycode, _ *Record, other keycode.Keycode, _ *Record) bool {
	if p.chord == nil {
		return false
	}
	return p.chord(pending, other)
}

func (p *testPolicy) EagerMod(mods keycode.ModMask) bool {
	return mods&^p.eager == 0
}

func (p *testPolicy) StreakContinue(kc keycode.Keycode, held keycode.ModMask) bool {
	return held&(keycode.MaskCtrl|keycode.MaskAlt|keycode.MaskGUI) == 0 && kc.TapKeycode().IsLetter()
}

func (p *testPolicy) StreakTimeout(_, _ keycode.Keycode) time.Duration { return p.streakTimeout }

func alwaysChord(_, _ keycode.Keycode) bool { return true }

// fakeHost records what reaches the host pipeline. Like a real host it
// asks the engine first on every record, including replays.
type fakeHost struct {
	t        *testing.T
	engine   *Engine
	keymap   map[keycode.Pos]keycode.Keycode
	layer1   map[keycode.Pos]keycode.Keycode
	layerOn  bool
	resolved int
	active   map[keycode.Pos]bool
	mods     keycode.ModMask
	log      []string
	depth    int
	maxDepth int
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{
		t:      t,
		active: map[keycode.Pos]bool{},
		keymap: map[keycode.Pos]keycode.Keycode{
			posA: shiftA,
			posS: ctrlS,
			posJ: layerJ,
			posK: keycode.K,
			posL: altL,
			{Row: 3, Col: 2}: keycode.X,
			{Row: 2, Col: 3}: keycode.D,
		},
	}
}

func (h *fakeHost) ProcessRecord(rec *Record) {
	h.depth++
	if h.depth > h.maxDepth {
		h.maxDepth = h.depth
	}
	defer func() { h.depth-- }()

	kc := h.lookup(rec.Key)
	if !h.engine.Process(kc, rec) {
		return
	}
	h.deliver(kc, rec)
}

func (h *fakeHost) lookup(pos keycode.Pos) keycode.Keycode {
	if kc, ok := h.layer1[pos]; ok && h.layerOn {
		return kc
	}
	return h.keymap[pos]
}

func (h *fakeHost) Resolve(rec *Record) keycode.Keycode {
	h.resolved++
	return h.lookup(rec.Key)
}

func (h *fakeHost) deliver(kc keycode.Keycode, rec *Record) {
	sign := "-"
	if rec.Pressed {
		sign = "+"
		h.active[rec.Key] = true
	} else {
		if !h.active[rec.Key] {
			return
		}
		delete(h.active, rec.Key)
	}
	switch {
	case kc.IsTapHold() && rec.Tap.Count == 0:
		if kc.IsLayerTap() {
			h.layerOn = rec.Pressed
		}
		if kc.IsModTap() {
			if rec.Pressed {
				h.mods |= kc.ModTapMods().Mask()
			} else {
				h.mods &^= kc.ModTapMods().Mask()
			}
		}
		h.log = append(h.log, fmt.Sprintf("hold%s %s", sign, kc))
	case kc.IsTapHold():
		h.log = append(h.log, fmt.Sprintf("tap%s %s", sign, kc.TapKeycode()))
	default:
		h.log = append(h.log, fmt.Sprintf("key%s %s [%s]", sign, kc, h.mods))
	}
}

func (h *fakeHost) ProcessAction(rec *Record, act Action) {
	sign := "-"
	if rec.Pressed {
		sign = "+"
		h.mods |= act.Mods
		if act.Kind == ActionModTap {
			h.active[rec.Key] = true
		}
	} else {
		h.mods &^= act.Mods
	}
	kind := "mods"
	if act.Kind == ActionModTap {
		kind = "modtap"
	}
	h.log = append(h.log, fmt.Sprintf("%s%s %s", kind, sign, act.Mods))
}

func (h *fakeHost) SendReport() { h.log = append(h.log, "report") }

func (h *fakeHost) Wait(d time.Duration) { h.log = append(h.log, "wait "+d.String()) }

func (h *fakeHost) Mods() keycode.ModMask { return h.mods }

func (h *fakeHost) press(pos keycode.Pos, ms int) {
	h.ProcessRecord(&Record{Key: pos, Pressed: true, Time: at(ms)})
}

func (h *fakeHost) release(pos keycode.Pos, ms int) {
	h.ProcessRecord(&Record{Key: pos, Pressed: false, Time: at(ms)})
}

func (h *fakeHost) take() []string {
	out := h.log
	h.log = nil
	return out
}

type recorder struct{ settlements []Settlement }

func (r *recorder) Settled(s Settlement) { r.settlements = append(r.settlements, s) }

func newTestEngine(t *testing.T, p *testPolicy, mutate func(*Config)) (*Engine, *fakeHost, *recorder) {
	t.Helper()
	h := newFakeHost(t)
	rec := &recorder{}
	cfg := Config{Policy: p, Observers: []Observer{rec}}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(h, cfg)
	require.NoError(t, err)
	h.engine = e
	return e, h, rec
}

func TestNewRequiresHostAndPolicy(t *testing.T) {
	_, err := New(nil, Config{Policy: &testPolicy{}})
	assert.ErrorIs(t, err, ErrNoHost)

	_, err = New(newFakeHost(t), Config{})
	assert.ErrorIs(t, err, ErrNoPolicy)
}

func TestTapBeforeTimeout(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)

	h.press(posA, 0)
	assert.Empty(t, h.log, "press of a dual-role key is withheld")
	assert.Equal(t, StateUnsettled, e.State())

	h.release(posA, 80)
	assert.Equal(t, []string{"tap+ A", "report", "tap- A"}, h.take())
	assert.Equal(t, StateReleased, e.State())
	assert.Equal(t, keycode.ModMask(0), h.mods)

	require.Len(t, rec.settlements, 1)
	s := rec.settlements[0]
	assert.Equal(t, OutcomeTap, s.Outcome)
	assert.Equal(t, ReasonRelease, s.Reason)
	assert.Equal(t, 80*time.Millisecond, s.Latency())
}

func TestTapCodeDelay(t *testing.T) {
	_, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, func(c *Config) {
		c.TapCodeDelay = 10 * time.Millisecond
	})

	h.press(posA, 0)
	h.release(posA, 50)
	assert.Equal(t, []string{"tap+ A", "report", "wait 10ms", "tap- A"}, h.take())
}

func TestHoldAfterTimeout(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)

	h.press(posA, 0)
	e.Tick(at(100))
	assert.Empty(t, h.log)
	assert.Equal(t, StateUnsettled, e.State())

	e.Tick(at(210))
	assert.Equal(t, []string{"hold+ MT(LSFT,A)"}, h.take())
	assert.Equal(t, StateHolding, e.State())
	assert.Equal(t, keycode.MaskLShift, h.mods)

	for ms := 220; ms < 400; ms += 10 {
		e.Tick(at(ms))
	}
	assert.Empty(t, h.log, "ticks after settlement have no effect")

	h.release(posA, 500)
	assert.Equal(t, []string{"hold- MT(LSFT,A)"}, h.take())
	assert.Equal(t, StateReleased, e.State())
	assert.Equal(t, keycode.ModMask(0), h.mods)

	require.Len(t, rec.settlements, 1)
	assert.Equal(t, OutcomeHold, rec.settlements[0].Outcome)
	assert.Equal(t, ReasonTimeout, rec.settlements[0].Reason)
}

func TestTickAtExactDeadlineSettles(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)
	h.press(posA, 0)
	e.Tick(at(200))
	assert.Equal(t, StateHolding, e.State())
}

func TestChordSettlesHoldBeforeOtherKey(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)

	h.press(posA, 0)
	h.press(posK, 50)
	assert.Equal(t, []string{"hold+ MT(LSFT,A)", "key+ K [LSFT]"}, h.take())
	assert.Equal(t, StateHolding, e.State())

	h.release(posK, 90)
	h.release(posA, 120)
	assert.Equal(t, []string{"key- K [LSFT]", "hold- MT(LSFT,A)"}, h.take())
	assert.Equal(t, StateReleased, e.State())

	require.Len(t, rec.settlements, 1)
	assert.Equal(t, ReasonChord, rec.settlements[0].Reason)
	assert.Equal(t, keycode.K, rec.settlements[0].Other)
}

func TestNoChordSettlesTapBeforeOtherKey(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)

	h.press(posA, 0)
	h.press(posK, 50)
	assert.Equal(t, []string{"tap+ A", "report", "tap- A", "key+ K [none]"}, h.take())
	assert.Equal(t, StateTapping, e.State())

	e.Tick(at(300))
	assert.Empty(t, h.log, "a tap decision is final")

	h.release(posA, 310)
	assert.Empty(t, h.log, "release after tap is absorbed")
	assert.Equal(t, StateReleased, e.State())

	require.Len(t, rec.settlements, 1)
	assert.Equal(t, ReasonNoChord, rec.settlements[0].Reason)
}

func TestOtherKeyReleaseNeverSettles(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)

	h.press(posK, 0)
	h.take()
	h.press(posA, 10)
	h.release(posK, 20)
	assert.Equal(t, []string{"key- K [none]"}, h.take())
	assert.Equal(t, StateUnsettled, e.State())
}

func TestReplayNestsOnce(t *testing.T) {
	_, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)
	h.press(posA, 0)
	h.press(posK, 10)
	assert.Equal(t, 2, h.maxDepth, "physical record plus exactly one replay level")
}

func TestEagerModsTap(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, eager: keycode.MaskShift}, func(c *Config) {
		c.EagerMods = true
	})

	h.press(posA, 0)
	assert.Equal(t, []string{"modtap+ LSFT"}, h.take())
	assert.Equal(t, keycode.MaskLShift, e.Snapshot().EagerMods)

	h.release(posA, 30)
	assert.Equal(t, []string{"mods- LSFT", "tap+ A", "report", "tap- A"}, h.take())
	assert.Equal(t, keycode.ModMask(0), h.mods)
	assert.Equal(t, keycode.ModMask(0), e.Snapshot().EagerMods)

	require.Len(t, rec.settlements, 1)
	assert.True(t, rec.settlements[0].Eager)
}

func TestEagerModsHold(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, eager: keycode.MaskShift}, func(c *Config) {
		c.EagerMods = true
	})

	h.press(posA, 0)
	h.take()
	e.Tick(at(250))
	assert.Empty(t, h.log, "eager mods are already in effect")
	assert.Equal(t, StateHolding, e.State())

	h.release(posA, 300)
	assert.Equal(t, []string{"hold- MT(LSFT,A)"}, h.take())
	assert.Equal(t, keycode.ModMask(0), e.Snapshot().EagerMods)
}

func TestEagerModsRejectedByPolicy(t *testing.T) {
	_, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, eager: keycode.MaskShift}, func(c *Config) {
		c.EagerMods = true
	})

	h.press(posL, 0)
	assert.Empty(t, h.log, "alt is not eager")
}

func TestZeroTimeoutBypasses(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{}, nil)
	h.press(posA, 0)
	assert.Equal(t, []string{"hold+ MT(LSFT,A)"}, h.take())
	assert.Equal(t, StateReleased, e.State())
}

func TestSecondDualRoleKeyBecomesPending(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)

	h.press(posA, 0)
	h.press(posS, 40)
	assert.Equal(t, []string{"tap+ A", "report", "tap- A"}, h.take())
	p, ok := e.Pending()
	require.True(t, ok)
	assert.Equal(t, ctrlS, p.Keycode)
	assert.Equal(t, StateUnsettled, e.State())

	h.release(posA, 60)
	assert.Empty(t, h.log)
	h.release(posS, 90)
	assert.Equal(t, []string{"tap+ S", "report", "tap- S"}, h.take())
	assert.Len(t, rec.settlements, 2)
}

func TestSecondDualRoleKeyAfterChordHold(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)

	h.press(posA, 0)
	h.press(posL, 30)
	assert.Equal(t, []string{"hold+ MT(LSFT,A)"}, h.take())
	assert.Equal(t, altL, e.Snapshot().Pending)

	h.press(posK, 60)
	assert.Equal(t, []string{"hold+ MT(RALT,L)", "key+ K [LSFT|RALT]"}, h.take())
}

func TestLayerHoldResolvesTriggerOnNewLayer(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)
	h.layer1 = map[keycode.Pos]keycode.Keycode{posA: keycode.Left}

	h.press(posJ, 0)
	h.press(posA, 30)
	assert.Equal(t, []string{"hold+ LT(1,J)", "key+ LEFT [none]"}, h.take())
	assert.Equal(t, StateHolding, e.State())
	assert.Equal(t, 1, h.resolved)

	h.release(posA, 60)
	assert.Equal(t, []string{"key- LEFT [none]"}, h.take())
}

func TestLayerHoldLatchesDualRoleKeyOfNewLayer(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord}, nil)
	h.layer1 = map[keycode.Pos]keycode.Keycode{posA: ctrlS}

	h.press(posJ, 0)
	h.press(posA, 30)
	assert.Equal(t, []string{"hold+ LT(1,J)"}, h.take())
	p, ok := e.Pending()
	require.True(t, ok)
	assert.Equal(t, ctrlS, p.Keycode, "latched with the keycode of the layer the hold enabled")
}

func TestDualRoleKeyWhileTappingStartsNewDecision(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)

	h.press(posA, 0)
	h.press(keycode.Pos{Row: 3, Col: 2}, 20)
	h.take()
	require.Equal(t, StateTapping, e.State())

	h.press(posS, 40)
	assert.Empty(t, h.log)
	assert.Equal(t, StateUnsettled, e.State())
	assert.Equal(t, ctrlS, e.Snapshot().Pending)

	h.release(posA, 50)
	assert.Empty(t, h.log, "retired tap key release is absorbed by the host")
	assert.Equal(t, StateUnsettled, e.State())
}

func TestNonKeyEventSettlesHold(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)
	h.press(posA, 0)
	h.ProcessRecord(&Record{Key: posK, Pressed: true, Time: at(20), Type: ComboEvent})
	assert.Equal(t, StateHolding, e.State())
	require.Len(t, rec.settlements, 1)
	assert.Equal(t, ReasonNonKey, rec.settlements[0].Reason)
}

func TestStreakForcesTap(t *testing.T) {
	p := &testPolicy{timeout: 200 * time.Millisecond, chord: alwaysChord, streakTimeout: 100 * time.Millisecond}
	e, h, rec := newTestEngine(t, p, func(c *Config) { c.Streak = p })

	h.press(keycode.Pos{Row: 2, Col: 3}, 0)
	h.release(keycode.Pos{Row: 2, Col: 3}, 20)
	h.take()
	assert.True(t, e.Snapshot().StreakActive)

	h.press(posA, 40)
	h.press(posK, 60)
	assert.Equal(t, []string{"tap+ A", "report", "tap- A", "key+ K [none]"}, h.take())
	require.Len(t, rec.settlements, 1)
	assert.Equal(t, ReasonStreak, rec.settlements[0].Reason)
}

func TestStreakWindowElapsed(t *testing.T) {
	p := &testPolicy{timeout: 500 * time.Millisecond, chord: alwaysChord, streakTimeout: 100 * time.Millisecond}
	_, h, rec := newTestEngine(t, p, func(c *Config) { c.Streak = p })

	h.press(keycode.Pos{Row: 2, Col: 3}, 0)
	h.release(keycode.Pos{Row: 2, Col: 3}, 20)
	h.press(posA, 200)
	h.press(posK, 250)
	require.Len(t, rec.settlements, 1)
	assert.Equal(t, ReasonChord, rec.settlements[0].Reason)
}

func TestStreakExpires(t *testing.T) {
	p := &testPolicy{timeout: 200 * time.Millisecond, streakTimeout: 100 * time.Millisecond}
	e, h, _ := newTestEngine(t, p, func(c *Config) { c.Streak = p })

	h.press(keycode.Pos{Row: 2, Col: 3}, 0)
	require.True(t, e.Snapshot().StreakActive)
	e.Tick(at(799))
	assert.True(t, e.Snapshot().StreakActive)
	e.Tick(at(800))
	assert.False(t, e.Snapshot().StreakActive)
}

func TestStreakBrokenByHeldCtrl(t *testing.T) {
	p := &testPolicy{timeout: 200 * time.Millisecond, streakTimeout: 100 * time.Millisecond}
	e, h, _ := newTestEngine(t, p, func(c *Config) { c.Streak = p })

	h.mods = keycode.MaskLCtrl
	h.press(keycode.Pos{Row: 2, Col: 3}, 0)
	assert.False(t, e.Snapshot().StreakActive)
}

func TestSetPolicyWithoutStreakClearsTimer(t *testing.T) {
	p := &testPolicy{timeout: 200 * time.Millisecond, streakTimeout: 100 * time.Millisecond}
	e, h, _ := newTestEngine(t, p, func(c *Config) { c.Streak = p })
	h.press(keycode.Pos{Row: 2, Col: 3}, 0)
	e.SetPolicy(p, nil)
	assert.False(t, e.Snapshot().StreakActive)
}

func TestNestedReplayPanics(t *testing.T) {
	e, _, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)
	e.state = StateRecursing
	assert.Panics(t, func() { e.replay(&Record{}, StateReleased) })
}

func TestResetDropsPendingKey(t *testing.T) {
	e, h, rec := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)
	h.press(posA, 0)
	e.state = StateRecursing

	e.Reset()
	assert.Equal(t, StateReleased, e.State())
	_, ok := e.Pending()
	assert.False(t, ok)

	e.Tick(at(500))
	assert.Empty(t, h.take())
	assert.Empty(t, rec.settlements)
}

func TestReconfigureKeepsPendingDeadline(t *testing.T) {
	e, h, _ := newTestEngine(t, &testPolicy{timeout: 200 * time.Millisecond}, nil)
	h.press(posA, 0)

	require.ErrorIs(t, e.Reconfigure(Config{}), ErrNoPolicy)
	require.NoError(t, e.Reconfigure(Config{
		Policy:       &testPolicy{timeout: time.Second},
		TapCodeDelay: 5 * time.Millisecond,
	}))

	e.Tick(at(200))
	assert.Equal(t, StateHolding, e.State(), "deadline latched before the change")
	h.release(posA, 300)
	h.take()

	h.press(posA, 1000)
	h.release(posA, 1100)
	assert.Equal(t, []string{"tap+ A", "report", "wait 5ms", "tap- A"}, h.take())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "unsettled", StateUnsettled.String())
	assert.Equal(t, "recursing", StateRecursing.String())
	assert.Equal(t, "hold", OutcomeHold.String())
	assert.Equal(t, "no_chord", ReasonNoChord.String())
}
