package host

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/keycode"
	"chordd/internal/policy"
)

// Positions on the default keymap.
var (
	posE     = keycode.Pos{Row: 1, Col: 3}
	posU     = keycode.Pos{Row: 1, Col: 7}
	posI     = keycode.Pos{Row: 1, Col: 8}
	posD     = keycode.Pos{Row: 2, Col: 3}
	posF     = keycode.Pos{Row: 2, Col: 4}
	posH     = keycode.Pos{Row: 2, Col: 6}
	posJ     = keycode.Pos{Row: 2, Col: 7}
	posSpace = keycode.Pos{Row: 4, Col: 3}
)

type harness struct {
	t      *testing.T
	p      *Pipeline
	e      *chord.Engine
	out    *Recorder
	start  time.Time
	now    time.Time
	waited time.Duration
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	km, err := ParseKeymap(cfg.Keymap.Layers)
	require.NoError(t, err)
	pol, err := policy.New(cfg)
	require.NoError(t, err)

	h := &harness{t: t, out: &Recorder{}, start: time.Unix(1000, 0)}
	h.now = h.start

	h.p, err = New(Config{
		Keymap: km,
		Sink:   h.out,
		Sleep: func(d time.Duration) {
			h.waited += d
			h.now = h.now.Add(d)
		},
	})
	require.NoError(t, err)

	h.e, err = chord.New(h.p, chord.Config{
		Policy:       pol,
		Streak:       pol.Streak(),
		StreakExpiry: pol.StreakExpiry(),
		EagerMods:    pol.EagerEnabled(),
		TapCodeDelay: cfg.TapCodeDelay(),
	})
	require.NoError(t, err)
	h.p.SetEngine(h.e)
	return h
}

func (h *harness) at(ms int) time.Time {
	return h.start.Add(time.Duration(ms) * time.Millisecond)
}

func (h *harness) press(ms int, pos keycode.Pos) {
	h.p.Handle(&chord.Record{Key: pos, Pressed: true, Time: h.at(ms)})
}

func (h *harness) release(ms int, pos keycode.Pos) {
	h.p.Handle(&chord.Record{Key: pos, Pressed: false, Time: h.at(ms)})
}

func (h *harness) tick(ms int) {
	h.e.Tick(h.at(ms))
	h.p.SendReport()
}

func (h *harness) reports() []string {
	return h.out.Strings()
}

func TestNewRequiresSinkAndKeymap(t *testing.T) {
	_, err := New(Config{Keymap: &Keymap{}})
	assert.ErrorIs(t, err, ErrNoSink)

	_, err = New(Config{Sink: &Recorder{}})
	assert.Error(t, err)
}

func TestPlainKey(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posE)
	h.release(50, posE)
	assert.Equal(t, []string{"E", "-"}, h.reports())
}

func TestDualRoleTap(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	assert.Empty(t, h.reports(), "undecided key sends nothing")
	h.release(100, posF)
	assert.Equal(t, []string{"F", "-"}, h.reports())
	assert.Equal(t, chord.StateReleased, h.e.State())
}

func TestDualRoleHoldByTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.tick(999)
	assert.Empty(t, h.reports())
	h.tick(1000)
	h.press(1100, posE)
	h.release(1200, posE)
	h.release(1300, posF)
	assert.Equal(t, []string{"LSFT", "LSFT+E", "LSFT", "-"}, h.reports())
}

func TestChordHoldOppositeHands(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.press(100, posU)
	h.release(150, posU)
	h.release(200, posF)
	assert.Equal(t, []string{"LSFT+U", "LSFT", "-"}, h.reports())
}

func TestSameHandSettlesTap(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.press(100, posE)
	h.release(150, posE)
	h.release(200, posF)
	assert.Equal(t, []string{"F", "E", "-"}, h.reports())
}

func TestTapCodeDelayUsesSleeper(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Engine.TapCodeDelayMs = 10 })
	h.press(0, posF)
	h.release(100, posF)
	assert.Equal(t, 10*time.Millisecond, h.waited)
	assert.Equal(t, []string{"F", "-"}, h.reports())
}

func TestLayerTapHold(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Chord.SameHandHoldKeys = []string{"LT(1,SPC)"} })
	h.press(0, posSpace)
	h.press(100, posH)
	assert.Equal(t, uint16(0b11), h.p.Layers())

	// The layer goes away first; H still releases what it pressed.
	h.release(150, posSpace)
	h.release(200, posH)
	assert.Equal(t, []string{"LEFT", "-"}, h.reports())
	assert.Equal(t, uint16(1), h.p.Layers())
}

func TestLayerHoldAppliesToDualRoleTrigger(t *testing.T) {
	h := newHarness(t, nil)
	// J is RSFT_T(J) on the base layer and DOWN on layer 1.
	h.press(0, posSpace)
	h.press(50, posJ)
	h.release(90, posJ)
	h.release(150, posSpace)
	assert.Equal(t, []string{"DOWN", "-"}, h.reports())
	assert.Equal(t, uint16(1), h.p.Layers())
	assert.Equal(t, chord.StateReleased, h.e.State())
}

func TestSameHandModsStack(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.press(30, posD)
	assert.Equal(t, chord.StateUnsettled, h.e.State())
	h.press(60, posI)
	h.release(90, posI)
	h.release(120, posD)
	h.release(150, posF)
	assert.Equal(t, []string{"LSFT", "LCTL|LSFT+I", "LCTL|LSFT", "LSFT", "-"}, h.reports())
	assert.Zero(t, h.p.Mods())
}

func TestEagerModTap(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Eager.Enabled = true })
	h.press(0, posF)
	h.release(100, posF)
	assert.Equal(t, []string{"LSFT", "F", "-"}, h.reports())
}

func TestEagerModHold(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Eager.Enabled = true })
	h.press(0, posF)
	h.tick(1000)
	h.press(1100, posE)
	h.release(1200, posE)
	h.release(1300, posF)
	assert.Equal(t, []string{"LSFT", "LSFT+E", "LSFT", "-"}, h.reports())
}

func TestBypassedKeyRetroTaps(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Timeouts.PerKey = map[string]int{"LSFT_T(F)": 0} })
	h.press(0, posF)
	assert.Equal(t, chord.StateReleased, h.e.State())
	h.release(100, posF)
	assert.Equal(t, []string{"LSFT", "-", "F", "-"}, h.reports())
}

func TestBypassedKeyHoldsWithOtherKey(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Timeouts.PerKey = map[string]int{"LSFT_T(F)": 0} })
	h.press(0, posF)
	h.press(50, posE)
	h.release(80, posE)
	h.release(100, posF)
	assert.Equal(t, []string{"LSFT", "LSFT+E", "LSFT", "-"}, h.reports())
}

func TestBypassedKeyRetroTapsAfterReplay(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Timeouts.PerKey = map[string]int{"RSFT_T(J)": 0} })
	h.press(0, posF)
	// F settles as hold and J reaches the host through a replay.
	h.press(30, posJ)
	h.release(60, posJ)
	h.release(100, posF)
	assert.Equal(t, []string{"LSFT|RSFT", "LSFT", "LSFT+J", "LSFT", "-"}, h.reports())
}

func TestStreakForcesTap(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Streak.Enabled = true })
	h.press(0, posE)
	h.release(30, posE)
	h.press(100, posF)
	h.press(150, posU)
	h.release(180, posU)
	h.release(200, posF)
	assert.Equal(t, []string{"E", "-", "F", "U", "-"}, h.reports())
}

func TestRetiredHoldReleasesMods(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.press(100, posU)
	h.release(150, posU)
	h.press(200, posJ)
	assert.Equal(t, chord.StateUnsettled, h.e.State())
	h.release(300, posJ)
	h.release(400, posF)
	assert.Equal(t, []string{"LSFT+U", "LSFT", "LSFT+J", "LSFT", "-"}, h.reports())
	assert.Zero(t, h.p.Mods())
}

func TestComboSettlesHold(t *testing.T) {
	h := newHarness(t, nil)
	combo := keycode.Pos{Row: 255, Col: 0}

	h.press(0, posF)
	h.p.HandleKeycode(keycode.Escape, &chord.Record{Key: combo, Pressed: true, Time: h.at(50), Type: chord.ComboEvent})
	h.p.HandleKeycode(keycode.Escape, &chord.Record{Key: combo, Pressed: false, Time: h.at(80), Type: chord.ComboEvent})
	h.release(100, posF)
	assert.Equal(t, []string{"LSFT+ESC", "LSFT", "-"}, h.reports())
}

func TestRolloverDropsSeventhKey(t *testing.T) {
	h := newHarness(t, nil)
	for col := uint8(1); col <= 7; col++ {
		h.press(int(col), keycode.Pos{Row: 0, Col: col})
	}
	assert.Equal(t, uint64(1), h.p.Dropped())
	assert.Len(t, h.p.Report().Pressed(), ReportKeys)
	assert.Equal(t, "1+2+3+4+5+6", h.p.Report().String())
}

type failingSink struct{ calls int }

func (f *failingSink) SendReport(Report) error {
	f.calls++
	return errors.New("device gone")
}

func TestSinkErrorIsKept(t *testing.T) {
	km, err := ParseKeymap(config.DefaultKeymap())
	require.NoError(t, err)
	sink := &failingSink{}
	p, err := New(Config{Keymap: km, Sink: sink})
	require.NoError(t, err)

	p.Handle(&chord.Record{Key: posE, Pressed: true})
	assert.EqualError(t, p.Err(), "device gone")

	// The report was not delivered, so it is retried.
	p.SendReport()
	assert.Equal(t, 2, sink.calls)
}

func TestNoEngineRetroTaps(t *testing.T) {
	km, err := ParseKeymap(config.DefaultKeymap())
	require.NoError(t, err)
	out := &Recorder{}
	p, err := New(Config{Keymap: km, Sink: out})
	require.NoError(t, err)

	p.Handle(&chord.Record{Key: posF, Pressed: true})
	p.Handle(&chord.Record{Key: posF, Pressed: false})
	assert.Equal(t, []string{"LSFT", "-", "F", "-"}, out.Strings())
}

func TestReset(t *testing.T) {
	h := newHarness(t, nil)
	h.press(0, posF)
	h.press(100, posU)
	h.p.Reset()
	assert.Equal(t, []string{"LSFT+U", "-"}, h.reports())
	assert.Zero(t, h.p.Mods())
}

func TestKeymapLookup(t *testing.T) {
	km, err := ParseKeymap([][]string{
		{"A LSFT_T(B)", "LT(1,C) D"},
		{"TRNS X", "TRNS TRNS"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, km.Layers())
	assert.Equal(t, keycode.A, km.Lookup(0, keycode.Pos{Row: 0, Col: 0}))
	assert.Equal(t, keycode.A, km.Lookup(0b10, keycode.Pos{Row: 0, Col: 0}), "transparent falls through")
	assert.Equal(t, keycode.X, km.Lookup(0b10, keycode.Pos{Row: 0, Col: 1}))
	assert.Equal(t, keycode.None, km.Lookup(0, keycode.Pos{Row: 9, Col: 0}))

	pos, ok := km.Find(keycode.D)
	assert.True(t, ok)
	assert.Equal(t, keycode.Pos{Row: 1, Col: 1}, pos)
}

func TestParseKeymapErrors(t *testing.T) {
	_, err := ParseKeymap(nil)
	assert.Error(t, err)

	_, err = ParseKeymap([][]string{{"A BOGUS"}})
	assert.ErrorContains(t, err, "layer 0 row 0 col 1")
}
