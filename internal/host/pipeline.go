// Package host is the key-processing pipeline the chord engine plugs
// into. It resolves matrix positions through a layered keymap, applies
// taps and holds, and emits 6KRO keyboard reports to a sink.
package host

import (
	"errors"
	"log/slog"
	"time"

	"chordd/internal/chord"
	"chordd/internal/keycode"
)

// ErrNoSink is returned by New when no report sink is supplied.
var ErrNoSink = errors.New("host: report sink is required")

// Sleeper blocks for d. The runner injects a virtual clock in tests.
type Sleeper func(d time.Duration)

// Config configures a Pipeline.
type Config struct {
	Keymap *Keymap
	Sink   ReportSink
	Sleep  Sleeper
	Logger *slog.Logger
}

// activeKey remembers what a press resolved to so its release undoes
// exactly that, whatever the layer state is by then.
type activeKey struct {
	kc       keycode.Keycode
	applied  bool
	released bool
	hold     bool
	eager    bool
	// retro marks a dual-role key the engine left to the host: held at
	// press, tapped on release when nothing else was pressed.
	retro bool
	seq   uint64
}

// Pipeline implements chord.Host. It is not safe for concurrent use; the
// runner owns it.
type Pipeline struct {
	keymap *Keymap
	sink   ReportSink
	sleep  Sleeper
	log    *slog.Logger
	engine *chord.Engine

	layers  uint16
	mods    keycode.ModMask
	keys    []keycode.Keycode
	active  map[keycode.Pos]*activeKey
	virtual map[keycode.Pos]keycode.Keycode
	seq     uint64

	last    Report
	dropped uint64
	sendErr error
}

var _ chord.Host = (*Pipeline)(nil)

// New creates a pipeline. Attach the engine with SetEngine before
// handling records.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sink == nil {
		return nil, ErrNoSink
	}
	if cfg.Keymap == nil {
		return nil, errors.New("host: keymap is required")
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		keymap:  cfg.Keymap,
		sink:    cfg.Sink,
		sleep:   cfg.Sleep,
		log:     cfg.Logger,
		active:  make(map[keycode.Pos]*activeKey),
		virtual: make(map[keycode.Pos]keycode.Keycode),
	}, nil
}

// SetEngine attaches the chord engine. A nil engine leaves every
// dual-role key to the host.
func (p *Pipeline) SetEngine(e *chord.Engine) {
	p.engine = e
}

// SetKeymap swaps the keymap. Keys already down release what they
// pressed.
func (p *Pipeline) SetKeymap(km *Keymap) {
	if km != nil {
		p.keymap = km
	}
}

// Handle is the matrix entry point: it runs rec through the pipeline and
// flushes the resulting report.
func (p *Pipeline) Handle(rec *chord.Record) {
	p.ProcessRecord(rec)
	p.SendReport()
}

// HandleKeycode feeds a non-matrix event (combo, encoder) that already
// resolved to kc. rec.Key identifies the event source.
func (p *Pipeline) HandleKeycode(kc keycode.Keycode, rec *chord.Record) {
	if rec.Pressed {
		p.virtual[rec.Key] = kc
	}
	p.Handle(rec)
}

// ProcessRecord runs rec through the engine and then the normal handling.
func (p *Pipeline) ProcessRecord(rec *chord.Record) {
	replay := p.engine != nil && p.engine.State() == chord.StateRecursing

	if rec.Pressed {
		ent, ok := p.active[rec.Key]
		switch {
		case !ok || ent.applied:
			ent = &activeKey{kc: p.lookup(rec)}
			p.active[rec.Key] = ent
		case replay && !p.isPending(rec.Key):
			// A press held back while a dual-role key was undecided
			// resolves against the layers as they are after settling.
			ent.kc = p.lookup(rec)
		}
		if !replay {
			p.seq++
			ent.seq = p.seq
		}
		if p.engine != nil && !p.engine.Process(ent.kc, rec) {
			return
		}
		p.press(ent, rec)
		return
	}

	ent, ok := p.active[rec.Key]
	kc := keycode.None
	if ok {
		kc = ent.kc
	} else {
		kc = p.lookup(rec)
	}
	if p.engine != nil && !p.engine.Process(kc, rec) {
		return
	}
	if ok && ent.applied && !ent.released {
		p.release(ent)
		ent.released = true
	}
	if !rec.IsKeyEvent() {
		delete(p.virtual, rec.Key)
	}
}

// Resolve looks rec up against the current layers and keeps the result
// for the key's later replays and release.
func (p *Pipeline) Resolve(rec *chord.Record) keycode.Keycode {
	kc := p.lookup(rec)
	if ent, ok := p.active[rec.Key]; ok && !ent.applied {
		ent.kc = kc
	}
	return kc
}

func (p *Pipeline) isPending(pos keycode.Pos) bool {
	pending, ok := p.engine.Pending()
	return ok && pending.Record.Key == pos
}

func (p *Pipeline) lookup(rec *chord.Record) keycode.Keycode {
	if !rec.IsKeyEvent() {
		return p.virtual[rec.Key]
	}
	return p.keymap.Lookup(p.layers, rec.Key)
}

func (p *Pipeline) press(ent *activeKey, rec *chord.Record) {
	ent.applied = true
	kc := ent.kc

	switch {
	case kc.IsTapHold() && rec.Tap.Count == 0:
		ent.hold = true
		ent.retro = p.engine == nil || p.engine.Bypasses(kc)
		p.holdOn(kc)
	case kc.IsTapHold():
		p.addKey(kc.TapKeycode())
	case kc.IsModifier():
		p.mods |= kc.ModifierMask()
	case kc == keycode.None || kc == keycode.Transparent:
	default:
		p.addKey(kc)
	}
}

func (p *Pipeline) release(ent *activeKey) {
	kc := ent.kc

	switch {
	case ent.hold:
		p.holdOff(kc)
		if ent.retro && ent.seq == p.seq {
			p.tap(kc.TapKeycode())
		}
	case kc.IsTapHold():
		p.removeKey(kc.TapKeycode())
	case kc.IsModifier():
		p.mods &^= kc.ModifierMask()
	default:
		p.removeKey(kc)
	}
}

func (p *Pipeline) holdOn(kc keycode.Keycode) {
	if kc.IsModTap() {
		p.mods |= kc.ModTapMods().Mask()
		return
	}
	p.layers |= 1 << kc.LayerTapLayer()
}

func (p *Pipeline) holdOff(kc keycode.Keycode) {
	if kc.IsModTap() {
		p.mods &^= kc.ModTapMods().Mask()
		return
	}
	p.layers &^= 1 << kc.LayerTapLayer()
}

// tap sends a press and release of kc as two reports.
func (p *Pipeline) tap(kc keycode.Keycode) {
	p.SendReport()
	p.addKey(kc)
	p.SendReport()
	p.removeKey(kc)
}

func (p *Pipeline) addKey(kc keycode.Keycode) {
	for _, k := range p.keys {
		if k == kc {
			return
		}
	}
	if len(p.keys) == ReportKeys {
		p.dropped++
		p.log.Debug("key rollover exceeded, dropping key", "key", kc)
		return
	}
	p.keys = append(p.keys, kc)
}

func (p *Pipeline) removeKey(kc keycode.Keycode) {
	for i, k := range p.keys {
		if k == kc {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			return
		}
	}
}

// ProcessAction applies act directly. Eager mod-tap mods mark the key as
// held so its eventual release removes them.
func (p *Pipeline) ProcessAction(rec *chord.Record, act chord.Action) {
	ent := p.active[rec.Key]

	switch {
	case act.Kind == chord.ActionModTap && rec.Pressed:
		p.mods |= act.Mods
		if ent != nil {
			ent.applied = true
			ent.hold = true
			ent.eager = true
		}
	case rec.Pressed:
		p.mods |= act.Mods
	default:
		p.mods &^= act.Mods
		if ent != nil && ent.eager {
			// The eager hold was withdrawn; the key is about to be
			// replayed as a tap.
			ent.applied = false
			ent.hold = false
			ent.eager = false
		}
	}
}

// SendReport sends the current report when it differs from the last one
// sent. The keyboard starts out with an implied empty report.
func (p *Pipeline) SendReport() {
	r := p.Report()
	if r == p.last {
		return
	}
	if err := p.sink.SendReport(r); err != nil {
		p.sendErr = err
		p.log.Warn("report not delivered", "error", err)
		return
	}
	p.last = r
}

// Report returns the report for the current state.
func (p *Pipeline) Report() Report {
	r := Report{Mods: p.mods}
	copy(r.Keys[:], p.keys)
	return r
}

// Wait blocks for d using the injected sleeper.
func (p *Pipeline) Wait(d time.Duration) {
	p.sleep(d)
}

// Mods returns the modifiers currently held.
func (p *Pipeline) Mods() keycode.ModMask {
	return p.mods
}

// Layers returns the active layer bitmask. Layer 0 is implied.
func (p *Pipeline) Layers() uint16 {
	return p.layers | 1
}

// Dropped returns how many key presses exceeded the report's key slots.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped
}

// Err returns the last sink error, if any.
func (p *Pipeline) Err() error {
	return p.sendErr
}

// Reset releases everything the host holds and sends an empty report.
func (p *Pipeline) Reset() {
	p.mods = 0
	p.keys = p.keys[:0]
	p.layers = 0
	clear(p.active)
	clear(p.virtual)
	p.SendReport()
}
