package runner

import (
	"fmt"
	"log/slog"

	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/host"
	"chordd/internal/policy"
)

// Options are the parts of a Stack that do not come from the config.
type Options struct {
	Sink      host.ReportSink
	Sleep     host.Sleeper
	Logger    *slog.Logger
	Observers []chord.Observer
}

// Stack is an engine wired to its host pipeline.
type Stack struct {
	Pipeline *host.Pipeline
	Engine   *chord.Engine
	Policy   *policy.Default
}

// Build creates the pipeline, policy and engine described by cfg.
func Build(cfg *config.Config, opts Options) (*Stack, error) {
	km, pol, err := compile(cfg)
	if err != nil {
		return nil, err
	}

	p, err := host.New(host.Config{
		Keymap: km,
		Sink:   opts.Sink,
		Sleep:  opts.Sleep,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	ecfg := EngineConfig(cfg, pol)
	ecfg.Logger = opts.Logger
	ecfg.Observers = opts.Observers
	e, err := chord.New(p, ecfg)
	if err != nil {
		return nil, err
	}
	p.SetEngine(e)

	return &Stack{Pipeline: p, Engine: e, Policy: pol}, nil
}

// EngineConfig returns the engine settings cfg and pol describe.
func EngineConfig(cfg *config.Config, pol *policy.Default) chord.Config {
	return chord.Config{
		Policy:       pol,
		Streak:       pol.Streak(),
		StreakExpiry: pol.StreakExpiry(),
		EagerMods:    pol.EagerEnabled(),
		TapCodeDelay: cfg.TapCodeDelay(),
	}
}

func compile(cfg *config.Config) (*host.Keymap, *policy.Default, error) {
	km, err := host.ParseKeymap(cfg.Keymap.Layers)
	if err != nil {
		return nil, nil, err
	}
	pol, err := policy.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: %w", err)
	}
	return km, pol, nil
}
