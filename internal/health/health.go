// Package health reports whether the chordd daemon is working.
//
// A Checker runs named component checks with timeouts and aggregates
// them. Critical components make the daemon unhealthy when they fail;
// others only degrade it. The handlers serve liveness, readiness and a
// detailed report next to the metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"chordd/internal/runner"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

const defaultTimeout = 2 * time.Second

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check performs a health check.
type Check func(ctx context.Context) CheckResult

// Component is a health-checked part of the daemon.
type Component struct {
	Name string
	// Critical failures make the overall status unhealthy.
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	started    time.Time
	ready      bool
}

// NewChecker creates a Checker that is not ready yet.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		started:    time.Now(),
	}
}

// Register adds a component. Its status is unknown until checked.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = defaultTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[comp.Name] = comp
	c.results[comp.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers check under name with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every check concurrently and returns the results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(comps))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, comp := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, comp)
			mu.Lock()
			results[comp.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	for name, res := range results {
		if _, ok := c.components[name]; ok {
			c.results[name] = res
		}
	}
	c.mu.Unlock()
	return results
}

// run executes one check with its timeout, converting panics and
// timeouts into unhealthy results.
func run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.LastChecked = start
	res.Duration = time.Since(start)
	return res
}

// OverallStatus aggregates the last results.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	unknown, degraded := false, false
	for name, res := range c.results {
		comp := c.components[name]
		switch res.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			degraded = true
		case StatusDegraded:
			degraded = true
		case StatusUnknown:
			unknown = unknown || comp.Critical
		}
	}
	switch {
	case unknown:
		return StatusUnknown
	case degraded:
		return StatusDegraded
	}
	return StatusHealthy
}

// Report is the body of the detailed health endpoint.
type Report struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report runs every check and summarizes them.
func (c *Checker) Report(ctx context.Context) Report {
	components := c.Check(ctx)
	c.mu.RLock()
	ready, uptime := c.ready, time.Since(c.started)
	c.mu.RUnlock()
	return Report{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime.Round(time.Second).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// LivenessHandler answers as long as the process serves HTTP.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
	})
}

// ReadinessHandler answers 503 until the daemon is ready and while it is
// unhealthy.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		c.Check(r.Context())
		status := c.OverallStatus()
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "ready": true})
	})
}

// HealthHandler serves the full Report. Degraded is still 200.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := c.Report(r.Context())
		code := http.StatusOK
		if rep.Status == StatusUnhealthy || rep.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for n := range c.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EngineCheck watches the engine loop. The loop ticks continuously, so a
// tick count that does not move between two checks means it is stuck.
// New panics since the previous check degrade the engine.
func EngineCheck(status func() runner.Status) Check {
	var (
		mu        sync.Mutex
		seen      bool
		lastTicks uint64
		lastPanic uint64
	)
	return func(context.Context) CheckResult {
		st := status()
		mu.Lock()
		defer mu.Unlock()

		details := map[string]any{
			"state":  st.State.String(),
			"events": st.Events,
			"ticks":  st.Ticks,
			"panics": st.Panics,
		}
		res := CheckResult{Status: StatusHealthy, Message: "engine loop running", Details: details}
		switch {
		case !st.Running:
			res.Status, res.Message = StatusUnhealthy, "engine loop not running"
		case seen && st.Ticks == lastTicks:
			res.Status, res.Message = StatusUnhealthy, "engine loop stalled"
		case seen && st.Panics > lastPanic:
			res.Status, res.Message = StatusDegraded, "engine recovered from a panic"
		}
		seen, lastTicks, lastPanic = true, st.Ticks, st.Panics
		return res
	}
}

// JournalCheck pings the journal database and degrades when settlements
// have been dropped since the previous check.
func JournalCheck(ping func(context.Context) error, dropped func() uint64) Check {
	var (
		mu   sync.Mutex
		last uint64
	)
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "journal unreachable", Error: err.Error()}
		}
		n := dropped()
		mu.Lock()
		prev := last
		last = n
		mu.Unlock()

		res := CheckResult{Status: StatusHealthy, Message: "journal ok", Details: map[string]any{"dropped": n}}
		if n > prev {
			res.Status, res.Message = StatusDegraded, fmt.Sprintf("journal dropped %d settlements", n-prev)
		}
		return res
	}
}

// CustomCheck wraps a function that fails with an error.
func CustomCheck(fn func() error) Check {
	return func(context.Context) CheckResult {
		if err := fn(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "check failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "check passed"}
	}
}
