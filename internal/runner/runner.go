// Package runner owns the chord engine and its host pipeline and drives
// them from a single goroutine: key input, periodic ticks and
// reconfiguration are all serialized onto one loop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/logging"
)

// DefaultTickInterval is used when the config leaves the interval unset.
const DefaultTickInterval = time.Millisecond

var (
	// ErrAlreadyRunning is returned by Run when the loop is already running.
	ErrAlreadyRunning = errors.New("runner: already running")
	// ErrInputClosed is returned by Run when the input channel is closed.
	ErrInputClosed = errors.New("runner: input closed")
	// ErrNoStack is returned by New without an engine stack.
	ErrNoStack = errors.New("runner: stack is required")
)

// Config configures a Runner.
type Config struct {
	Stack *Stack
	Input <-chan Input

	// Clock defaults to SystemClock.
	Clock Clock

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration

	// Crash records panics of the loop. With a nil handler panics are
	// not recovered.
	Crash *logging.CrashHandler

	Logger *slog.Logger
}

// Status is a lock-free summary of the loop, safe to read from any
// goroutine.
type Status struct {
	Running   bool
	State     chord.State
	Events    uint64
	Ticks     uint64
	Reloads   uint64
	Panics    uint64
	LastEvent time.Time
}

type update struct {
	stack    func(*Stack)
	interval time.Duration
}

// Runner serializes all access to a Stack.
type Runner struct {
	stack    *Stack
	input    <-chan Input
	clock    Clock
	interval time.Duration
	crash    *logging.CrashHandler
	log      *slog.Logger

	calls   chan func(*Stack)
	updates chan update
	upMu    sync.Mutex

	running   atomic.Bool
	state     atomic.Uint32
	events    atomic.Uint64
	ticks     atomic.Uint64
	reloads   atomic.Uint64
	panics    atomic.Uint64
	lastEvent atomic.Int64

	ticker Ticker
}

// New creates a runner. Run starts it.
func New(cfg Config) (*Runner, error) {
	if cfg.Stack == nil {
		return nil, ErrNoStack
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		stack:    cfg.Stack,
		input:    cfg.Input,
		clock:    cfg.Clock,
		interval: cfg.TickInterval,
		crash:    cfg.Crash,
		log:      cfg.Logger,
		calls:    make(chan func(*Stack)),
		updates:  make(chan update, 1),
	}, nil
}

// Run drives the loop until ctx is done or the input channel closes. On
// return every key the host holds is released.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	r.ticker = r.clock.NewTicker(r.interval)
	defer func() { r.ticker.Stop() }()
	defer r.guard(func() { r.stack.Pipeline.Reset() })

	r.log.Info("engine loop started", "tick", r.interval)
	defer r.log.Info("engine loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil

		case in, ok := <-r.input:
			if !ok {
				return ErrInputClosed
			}
			r.handle(in)

		case now := <-r.ticker.C():
			r.tick(now)

		case fn := <-r.calls:
			r.guard(func() { fn(r.stack) })

		case u := <-r.updates:
			r.apply(u)
		}
		r.state.Store(uint32(r.stack.Engine.State()))
	}
}

func (r *Runner) handle(in Input) {
	now := r.clock.Now()
	rec := in.record(now)
	r.events.Add(1)
	r.lastEvent.Store(now.UnixNano())

	r.guard(func() {
		if in.Type == chord.KeyEvent {
			r.stack.Pipeline.Handle(rec)
		} else {
			r.stack.Pipeline.HandleKeycode(in.Keycode, rec)
		}
	})
}

func (r *Runner) tick(now time.Time) {
	r.ticks.Add(1)
	r.guard(func() {
		r.stack.Engine.Tick(now)
		r.stack.Pipeline.SendReport()
	})
}

func (r *Runner) apply(u update) {
	r.guard(func() { u.stack(r.stack) })
	if u.interval > 0 && u.interval != r.interval {
		r.ticker.Stop()
		r.interval = u.interval
		r.ticker = r.clock.NewTicker(u.interval)
	}
	r.reloads.Add(1)
	r.log.Info("configuration applied", "policy", r.stack.Policy.Describe(), "tick", r.interval)
}

// guard runs fn on the loop. A panic is written as a crash report and
// both the engine and the host are reset so no key stays stuck down.
func (r *Runner) guard(fn func()) {
	if r.crash == nil {
		fn()
		return
	}
	rep := r.crash.Recover(r.crashContext, fn)
	if rep == nil {
		return
	}
	r.panics.Add(1)
	r.log.Error("engine loop recovered from panic", "panic", rep.PanicValue)
	r.stack.Engine.Reset()
	r.stack.Pipeline.Reset()
}

// crashContext describes the loop without naming any typed key.
func (r *Runner) crashContext() map[string]any {
	snap := r.stack.Engine.Snapshot()
	return map[string]any{
		"state":      snap.State.String(),
		"eager_mods": snap.EagerMods.String(),
		"streak":     snap.StreakActive,
		"host_mods":  r.stack.Pipeline.Mods().String(),
		"layers":     fmt.Sprintf("%#04x", r.stack.Pipeline.Layers()),
		"events":     r.events.Load(),
	}
}

// Do runs fn on the loop and waits for it to finish.
func (r *Runner) Do(ctx context.Context, fn func(*Stack)) error {
	done := make(chan struct{})
	call := func(s *Stack) {
		defer close(done)
		fn(s)
	}
	select {
	case r.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the engine snapshot taken on the loop.
func (r *Runner) Snapshot(ctx context.Context) (chord.Snapshot, error) {
	var snap chord.Snapshot
	err := r.Do(ctx, func(s *Stack) { snap = s.Engine.Snapshot() })
	return snap, err
}

// Reconfigure validates cfg off the loop and queues the new policy,
// keymap and engine timing. A newer configuration replaces one that has
// not been applied yet.
func (r *Runner) Reconfigure(cfg *config.Config) error {
	km, pol, err := compile(cfg)
	if err != nil {
		return err
	}
	ecfg := EngineConfig(cfg, pol)
	u := update{
		interval: cfg.TickInterval(),
		stack: func(s *Stack) {
			if err := s.Engine.Reconfigure(ecfg); err != nil {
				r.log.Error("reconfigure engine", "error", err)
				return
			}
			s.Policy = pol
			s.Pipeline.SetKeymap(km)
		},
	}

	r.upMu.Lock()
	defer r.upMu.Unlock()
	select {
	case <-r.updates:
	default:
	}
	r.updates <- u
	return nil
}

// Status returns counters maintained by the loop.
func (r *Runner) Status() Status {
	st := Status{
		Running: r.running.Load(),
		State:   chord.State(r.state.Load()),
		Events:  r.events.Load(),
		Ticks:   r.ticks.Load(),
		Reloads: r.reloads.Load(),
		Panics:  r.panics.Load(),
	}
	if ns := r.lastEvent.Load(); ns != 0 {
		st.LastEvent = time.Unix(0, ns)
	}
	return st
}
