package metrics

import (
	"time"

	"chordd/internal/chord"
	"chordd/internal/runner"
)

// settlementKinds lists the outcome and reason pairs the engine produces.
var settlementKinds = []struct {
	outcome chord.Outcome
	reason  chord.Reason
}{
	{chord.OutcomeTap, chord.ReasonRelease},
	{chord.OutcomeTap, chord.ReasonNoChord},
	{chord.OutcomeTap, chord.ReasonStreak},
	{chord.OutcomeHold, chord.ReasonTimeout},
	{chord.OutcomeHold, chord.ReasonChord},
	{chord.OutcomeHold, chord.ReasonNonKey},
}

type kind struct {
	outcome chord.Outcome
	reason  chord.Reason
}

// ChorddMetrics holds the daemon's metrics. It implements chord.Observer.
type ChorddMetrics struct {
	registry *Registry
	started  time.Time

	settlements map[kind]*Counter
	other       *Counter

	EagerTotal      *Counter
	DecisionLatency *Histogram

	EventsTotal   *Counter
	TicksTotal    *Counter
	ReloadsTotal  *Counter
	PanicsTotal   *Counter
	EngineState   *Gauge
	LastEventTs   *Gauge
	UptimeSeconds *Gauge

	JournalWritten *Counter
	JournalDropped *Counter
}

var _ chord.Observer = (*ChorddMetrics)(nil)

// NewChorddMetrics creates and registers all chordd metrics.
func NewChorddMetrics(registry *Registry) *ChorddMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &ChorddMetrics{
		registry:    registry,
		started:     time.Now(),
		settlements: make(map[kind]*Counter, len(settlementKinds)),
		other: registry.RegisterCounter(
			"settlements_total",
			"Dual-role key settlements by outcome and reason",
			Labels{"outcome": "unknown", "reason": "unknown"},
		),

		EagerTotal: registry.RegisterCounter(
			"eager_mods_total",
			"Settlements whose modifiers were applied before the decision",
			nil,
		),
		DecisionLatency: registry.RegisterHistogram(
			"decision_latency_seconds",
			"Time from a dual-role key press to its settlement",
			nil,
			LatencyBuckets,
		),

		EventsTotal: registry.RegisterCounter(
			"events_total",
			"Input events handled by the engine loop",
			nil,
		),
		TicksTotal: registry.RegisterCounter(
			"ticks_total",
			"Timer ticks handled by the engine loop",
			nil,
		),
		ReloadsTotal: registry.RegisterCounter(
			"reloads_total",
			"Configuration reloads applied",
			nil,
		),
		PanicsTotal: registry.RegisterCounter(
			"panics_total",
			"Panics recovered on the engine loop",
			nil,
		),
		EngineState: registry.RegisterGauge(
			"engine_state",
			"Engine state (0 released, 1 unsettled, 2 tapping, 3 holding, 4 recursing)",
			nil,
		),
		LastEventTs: registry.RegisterGauge(
			"last_event_timestamp",
			"Unix timestamp of the last input event",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		JournalWritten: registry.RegisterCounter(
			"journal_written_total",
			"Settlements written to the journal",
			nil,
		),
		JournalDropped: registry.RegisterCounter(
			"journal_dropped_total",
			"Settlements dropped because the journal queue was full",
			nil,
		),
	}

	for _, k := range settlementKinds {
		m.settlements[kind{k.outcome, k.reason}] = registry.RegisterCounter(
			"settlements_total",
			"Dual-role key settlements by outcome and reason",
			Labels{"outcome": k.outcome.String(), "reason": k.reason.String()},
		)
	}

	registry.OnCollect(m.updateUptime)
	return m
}

// Registry returns the registry the metrics live in.
func (m *ChorddMetrics) Registry() *Registry {
	return m.registry
}

// Settled records one settlement.
func (m *ChorddMetrics) Settled(s chord.Settlement) {
	if c, ok := m.settlements[kind{s.Outcome, s.Reason}]; ok {
		c.Inc()
	} else {
		m.other.Inc()
	}
	if s.Eager {
		m.EagerTotal.Inc()
	}
	if !s.Pressed.IsZero() {
		m.DecisionLatency.ObserveDuration(s.Latency())
	}
}

// Settlements returns the count for one outcome and reason.
func (m *ChorddMetrics) Settlements(o chord.Outcome, r chord.Reason) uint64 {
	if c, ok := m.settlements[kind{o, r}]; ok {
		return c.Value()
	}
	return 0
}

// WatchLoop mirrors the engine loop's status on every export.
func (m *ChorddMetrics) WatchLoop(status func() runner.Status) {
	m.registry.OnCollect(func() {
		m.UpdateLoop(status())
	})
}

// UpdateLoop copies a loop status into the metrics.
func (m *ChorddMetrics) UpdateLoop(st runner.Status) {
	m.EventsTotal.Set(st.Events)
	m.TicksTotal.Set(st.Ticks)
	m.ReloadsTotal.Set(st.Reloads)
	m.PanicsTotal.Set(st.Panics)
	m.EngineState.Set(int64(st.State))
	if !st.LastEvent.IsZero() {
		m.LastEventTs.Set(st.LastEvent.Unix())
	}
}

// WatchJournal mirrors journal counters on every export.
func (m *ChorddMetrics) WatchJournal(written, dropped func() uint64) {
	m.registry.OnCollect(func() {
		m.JournalWritten.Set(written())
		m.JournalDropped.Set(dropped())
	})
}

func (m *ChorddMetrics) updateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *ChorddMetrics) Snapshot() map[string]any {
	m.registry.collect()

	var taps, holds uint64
	for k, c := range m.settlements {
		if k.outcome == chord.OutcomeTap {
			taps += c.Value()
		} else {
			holds += c.Value()
		}
	}
	return map[string]any{
		"taps_total":            taps,
		"holds_total":           holds,
		"eager_mods_total":      m.EagerTotal.Value(),
		"events_total":          m.EventsTotal.Value(),
		"reloads_total":         m.ReloadsTotal.Value(),
		"panics_total":          m.PanicsTotal.Value(),
		"journal_dropped_total": m.JournalDropped.Value(),
		"uptime_seconds":        m.UptimeSeconds.Value(),
		"decision_mean_seconds": m.DecisionLatency.Mean(),
		"decision_p95_seconds":  m.DecisionLatency.Quantile(95),
	}
}
