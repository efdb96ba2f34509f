package scenario

import (
	"fmt"
	"log/slog"
	"time"

	"chordd/internal/chord"
	"chordd/internal/host"
	"chordd/internal/keycode"
	"chordd/internal/runner"
)

// Epoch is virtual time zero.
var Epoch = time.Unix(1_000_000, 0).UTC()

// Options configures Run.
type Options struct {
	Logger *slog.Logger
	// Observers also receive every settlement.
	Observers []chord.Observer
}

// Settled is one settlement seen during a run.
type Settled struct {
	Keycode   keycode.Keycode
	Outcome   chord.Outcome
	Reason    chord.Reason
	Other     keycode.Keycode
	Eager     bool
	AtMs      int
	LatencyMs int
}

func (s Settled) String() string {
	return fmt.Sprintf("%s %s (%s) at %dms", s.Keycode, s.Outcome, s.Reason, s.AtMs)
}

// Step is what one event produced.
type Step struct {
	AtMs    int
	Event   string
	Reports []string
	Settled []Settled
	State   chord.State
}

// Transcript is the record of a run.
type Transcript struct {
	Name        string
	Steps       []Step
	Reports     []string
	Settlements []Settled
	FinalState  chord.State
	// Waited is the virtual time spent in tap code delays.
	Waited time.Duration
}

func ms(t time.Time) int {
	return int(t.Sub(Epoch) / time.Millisecond)
}

func at(msec int) time.Time {
	return Epoch.Add(time.Duration(msec) * time.Millisecond)
}

// Run replays sc through a fresh engine and pipeline.
func Run(sc *Scenario, opts Options) (*Transcript, error) {
	tr := &Transcript{Name: sc.Name}
	out := &host.Recorder{}

	var settled []Settled
	record := chord.ObserverFunc(func(s chord.Settlement) {
		settled = append(settled, Settled{
			Keycode:   s.Keycode,
			Outcome:   s.Outcome,
			Reason:    s.Reason,
			Other:     s.Other,
			Eager:     s.Eager,
			AtMs:      ms(s.Settled),
			LatencyMs: int(s.Latency() / time.Millisecond),
		})
	})

	stack, err := runner.Build(sc.Config, runner.Options{
		Sink:      out,
		Sleep:     func(d time.Duration) { tr.Waited += d },
		Logger:    opts.Logger,
		Observers: append([]chord.Observer{record}, opts.Observers...),
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	step := func(atMs int, what string, keepEmpty bool, fn func()) {
		nReports, nSettled := len(out.Reports()), len(settled)
		fn()
		reports := out.Strings()[nReports:]
		if !keepEmpty && len(reports) == 0 && len(settled) == nSettled {
			return
		}
		tr.Steps = append(tr.Steps, Step{
			AtMs:    atMs,
			Event:   what,
			Reports: reports,
			Settled: append([]Settled(nil), settled[nSettled:]...),
			State:   stack.Engine.State(),
		})
	}
	tick := func(atMs int, explicit bool) {
		step(atMs, "tick", explicit, func() {
			stack.Engine.Tick(at(atMs))
			stack.Pipeline.SendReport()
		})
	}

	nextTick := sc.TickMs
	autoTick := func(upTo int) {
		if sc.TickMs <= 0 {
			return
		}
		for ; nextTick <= upTo; nextTick += sc.TickMs {
			tick(nextTick, false)
		}
	}

	for _, ev := range sc.Events {
		autoTick(ev.AtMs)
		if ev.Kind == Tick {
			tick(ev.AtMs, true)
			continue
		}
		rec := &chord.Record{Key: ev.Pos, Pressed: ev.Kind == Press, Time: at(ev.AtMs), Type: ev.Type}
		step(ev.AtMs, ev.String(), true, func() {
			if ev.Type == chord.KeyEvent {
				stack.Pipeline.Handle(rec)
			} else {
				stack.Pipeline.HandleKeycode(ev.Keycode, rec)
			}
		})
	}
	autoTick(sc.UntilMs)

	tr.Reports = out.Strings()
	tr.Settlements = settled
	tr.FinalState = stack.Engine.State()
	return tr, nil
}
