package runner

import (
	"context"
	"time"

	"chordd/internal/chord"
	"chordd/internal/evdev"
	"chordd/internal/keycode"
)

// Input is one event for the runner loop.
type Input struct {
	Key     keycode.Pos
	Pressed bool
	// Time is the event time. Zero means the clock's time on receipt.
	Time time.Time
	Type chord.EventType
	// Keycode is what a non-key event (combo, encoder) resolved to.
	Keycode keycode.Keycode
}

func (in Input) record(now time.Time) *chord.Record {
	t := in.Time
	if t.IsZero() {
		t = now
	}
	return &chord.Record{Key: in.Key, Pressed: in.Pressed, Time: t, Type: in.Type}
}

// FromEvent converts an evdev event. Autorepeat and keys outside the
// matrix are dropped.
func FromEvent(ev evdev.Event) (Input, bool) {
	if ev.Value == evdev.ValueRepeat {
		return Input{}, false
	}
	pos, ok := ev.Pos()
	if !ok {
		return Input{}, false
	}
	return Input{Key: pos, Pressed: ev.Pressed(), Time: ev.Time}, true
}

// FromEvents converts a stream of evdev events. The returned channel is
// closed when events is closed or ctx is done.
func FromEvents(ctx context.Context, events <-chan evdev.Event) <-chan Input {
	out := make(chan Input, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				in, ok := FromEvent(ev)
				if !ok {
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
