// Package metrics provides Prometheus-compatible metrics for chordd.
//
// Counters, gauges and histograms live in a Registry that renders the
// Prometheus text exposition format or JSON. Series of one family are
// told apart by labels, e.g. chordd_settlements_total{outcome="tap"}.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// String renders the labels in exposition format, sorted by name.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, labelEscaper.Replace(l[k])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns the labels plus one more pair, for histogram buckets.
func (l Labels) with(k, v string) string {
	m := make(Labels, len(l)+1)
	for lk, lv := range l {
		m[lk] = lv
	}
	m[k] = v
	return m.String()
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// NewCounter creates a new Counter.
func NewCounter(name, help string, labels Labels) *Counter {
	return &Counter{name: name, help: help, labels: labels}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Set moves the counter to v, for counters mirrored from elsewhere. A
// smaller v is ignored.
func (c *Counter) Set(v uint64) {
	for {
		cur := c.value.Load()
		if v <= cur || c.value.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Value returns the current value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Name returns the metric name.
func (c *Counter) Name() string {
	return c.name
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// NewGauge creates a new Gauge.
func NewGauge(name, help string, labels Labels) *Gauge {
	return &Gauge{name: name, help: help, labels: labels}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Name returns the metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu sync.Mutex
	// counts[i] holds observations in (buckets[i-1], buckets[i]]; the
	// last slot is +Inf.
	counts []uint64
	sum    float64
	count  uint64
}

// DefaultBuckets are default histogram buckets.
var DefaultBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// LatencyBuckets suit tap-hold decision latencies in seconds: chords
// settle within tens of milliseconds, timeouts around a second.
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 5,
}

// NewHistogram creates a new Histogram.
func NewHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}

	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Name returns the metric name.
func (h *Histogram) Name() string {
	return h.name
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Count returns the count of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the mean of observed values.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Quantile estimates the p-th percentile (0-100) from the buckets.
func (h *Histogram) Quantile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Percentile(h.buckets, h.cumulative(), p)
}

// cumulative returns running totals per bucket. Callers hold h.mu.
func (h *Histogram) cumulative() []uint64 {
	out := make([]uint64, len(h.counts))
	var total uint64
	for i, c := range h.counts {
		total += c
		out[i] = total
	}
	return out
}

// Registry holds all registered metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	collectors []func()

	namespace string
	subsystem string
}

// NewRegistry creates a new Registry.
func NewRegistry(namespace, subsystem string) *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		namespace:  namespace,
		subsystem:  subsystem,
	}
}

// fullName returns the full metric name with namespace and subsystem.
func (r *Registry) fullName(name string) string {
	parts := []string{}
	if r.namespace != "" {
		parts = append(parts, r.namespace)
	}
	if r.subsystem != "" {
		parts = append(parts, r.subsystem)
	}
	parts = append(parts, name)
	return strings.Join(parts, "_")
}

// RegisterCounter registers a counter series. Registering the same name
// and labels again returns the existing counter.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	key := full + labels.String()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := NewCounter(full, help, labels)
	r.counters[key] = c
	return c
}

// RegisterGauge registers a gauge series.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	key := full + labels.String()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := NewGauge(full, help, labels)
	r.gauges[key] = g
	return g
}

// RegisterHistogram registers a histogram series.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	key := full + labels.String()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := NewHistogram(full, help, labels, buckets)
	r.histograms[key] = h
	return h
}

// GetCounter returns a counter series by name and labels.
func (r *Registry) GetCounter(name string, labels Labels) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[r.fullName(name)+labels.String()]
}

// GetGauge returns a gauge series by name and labels.
func (r *Registry) GetGauge(name string, labels Labels) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[r.fullName(name)+labels.String()]
}

// OnCollect registers fn to run before every export, to refresh gauges
// that mirror state owned elsewhere.
func (r *Registry) OnCollect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, fn)
}

func (r *Registry) collect() {
	r.mu.RLock()
	fns := append([]func(){}, r.collectors...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes metrics in Prometheus text format. Series are
// sorted so each family is contiguous under one HELP and TYPE line.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.collect()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	family := ""
	header := func(name, help string, t MetricType) {
		if name == family {
			return
		}
		family = name
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, t)
	}

	for _, k := range sortedKeys(r.counters) {
		c := r.counters[k]
		header(c.name, c.help, TypeCounter)
		fmt.Fprintf(&b, "%s%s %d\n", c.name, c.labels.String(), c.Value())
	}

	for _, k := range sortedKeys(r.gauges) {
		g := r.gauges[k]
		header(g.name, g.help, TypeGauge)
		fmt.Fprintf(&b, "%s%s %d\n", g.name, g.labels.String(), g.Value())
	}

	for _, k := range sortedKeys(r.histograms) {
		h := r.histograms[k]
		h.mu.Lock()
		header(h.name, h.help, TypeHistogram)
		cum := h.cumulative()
		for i, bucket := range h.buckets {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, h.labels.with("le", formatFloat(bucket)), cum[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cum[len(cum)-1])
		fmt.Fprintf(&b, "%s_sum%s %s\n", h.name, h.labels.String(), formatFloat(h.sum))
		fmt.Fprintf(&b, "%s_count%s %d\n", h.name, h.labels.String(), h.count)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// WriteJSON writes metrics in JSON format, keyed by series.
func (r *Registry) WriteJSON(w io.Writer) error {
	r.collect()

	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics := make(map[string]any)

	for k, c := range r.counters {
		metrics[k] = map[string]any{
			"type":   TypeCounter.String(),
			"help":   c.help,
			"labels": c.labels,
			"value":  c.Value(),
		}
	}

	for k, g := range r.gauges {
		metrics[k] = map[string]any{
			"type":   TypeGauge.String(),
			"help":   g.help,
			"labels": g.labels,
			"value":  g.Value(),
		}
	}

	for k, h := range r.histograms {
		h.mu.Lock()
		cum := h.cumulative()
		buckets := make(map[string]uint64, len(cum))
		for i, bucket := range h.buckets {
			buckets[formatFloat(bucket)] = cum[i]
		}
		buckets["+Inf"] = cum[len(cum)-1]

		mean := 0.0
		if h.count > 0 {
			mean = h.sum / float64(h.count)
		}
		metrics[k] = map[string]any{
			"type":    TypeHistogram.String(),
			"help":    h.help,
			"labels":  h.labels,
			"buckets": buckets,
			"sum":     h.sum,
			"count":   h.count,
			"mean":    mean,
			"p95":     Percentile(h.buckets, cum, 95),
		}
		h.mu.Unlock()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(metrics)
}

// Reset zeroes all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.counters {
		c.value.Store(0)
	}
	for _, g := range r.gauges {
		g.value.Store(0)
	}
	for _, h := range r.histograms {
		h.mu.Lock()
		h.sum = 0
		h.count = 0
		clear(h.counts)
		h.mu.Unlock()
	}
}

// HTTPHandler returns an HTTP handler for metrics. Clients asking for
// JSON get WriteJSON; everyone else gets the text format.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

// Route is an extra handler served next to /metrics.
type Route struct {
	Path    string
	Handler http.Handler
}

// Serve exposes the registry on addr at /metrics until ctx is done. A
// plain /healthz is served unless a route replaces it.
func Serve(ctx context.Context, addr string, r *Registry, log *slog.Logger, routes ...Route) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, r, log, routes...)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, r *Registry, log *slog.Logger, routes ...Route) error {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.HTTPHandler())
	health := false
	for _, rt := range routes {
		mux.Handle(rt.Path, rt.Handler)
		health = health || rt.Path == "/healthz"
	}
	if !health {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ok\n")
		})
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

var defaultRegistry = NewRegistry("chordd", "")

// Default returns the default global registry.
func Default() *Registry {
	return defaultRegistry
}

// SetDefault sets the default global registry.
func SetDefault(r *Registry) {
	defaultRegistry = r
}

// Percentile estimates the p-th percentile from bucket bounds and
// cumulative counts (one more count than bounds, the last being +Inf).
func Percentile(buckets []float64, counts []uint64, p float64) float64 {
	if len(counts) == 0 || counts[len(counts)-1] == 0 {
		return 0
	}

	total := counts[len(counts)-1]
	target := uint64(math.Ceil(float64(total) * p / 100))
	if target == 0 {
		target = 1
	}

	for i, count := range counts {
		if count < target {
			continue
		}
		if i == 0 {
			return buckets[0] / 2
		}
		lower := buckets[i-1]
		upper := lower * 2
		if i < len(buckets) {
			upper = buckets[i]
		}
		prev := counts[i-1]
		ratio := float64(target-prev) / float64(count-prev)
		return lower + (upper-lower)*ratio
	}

	return buckets[len(buckets)-1]
}
