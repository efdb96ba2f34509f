package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// CrashReport is the record written when the engine loop panics.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GoVersion    string         `json:"go_version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandler turns panics into crash reports on disk.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	stderr    io.Writer
	onCrash   func(CrashReport)
	seq       int
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory to write crash dumps.
	CrashDir string

	// Version is the daemon version recorded in each report.
	Version string

	// Component is the component name.
	Component string

	// Stderr receives the short crash summary. Defaults to os.Stderr.
	Stderr io.Writer

	// OnCrash is called after a crash is written.
	OnCrash func(CrashReport)
}

// DefaultCrashDir returns the platform-specific default crash directory.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(defaultLogPath()), "crashes")
}

var (
	globalCrashHandler *CrashHandler
	crashHandlerOnce   sync.Once
)

// DefaultCrashHandler returns the default global crash handler.
func DefaultCrashHandler() *CrashHandler {
	crashHandlerOnce.Do(func() {
		if globalCrashHandler != nil {
			return
		}
		globalCrashHandler = NewCrashHandler(&CrashHandlerConfig{Component: "chordd"})
	})
	return globalCrashHandler
}

// SetDefaultCrashHandler sets the default global crash handler.
func SetDefaultCrashHandler(h *CrashHandler) {
	globalCrashHandler = h
}

// NewCrashHandler creates a new CrashHandler.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{}
	}
	dir := cfg.CrashDir
	if dir == "" {
		dir = DefaultCrashDir()
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &CrashHandler{
		crashDir:  dir,
		version:   cfg.Version,
		component: cfg.Component,
		stderr:    stderr,
		onCrash:   cfg.OnCrash,
	}
}

// Dir returns the crash report directory.
func (h *CrashHandler) Dir() string {
	return h.crashDir
}

// SetVersion sets the version recorded in reports.
func (h *CrashHandler) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// Recover runs fn and converts a panic into a crash report. It returns
// the report when fn panicked. ctx is evaluated only after a panic, so
// callers can pass a snapshot of state that was live at the time.
func (h *CrashHandler) Recover(ctx func() map[string]any, fn func()) (report *CrashReport) {
	defer func() {
		if r := recover(); r != nil {
			var info map[string]any
			if ctx != nil {
				info = ctx()
			}
			rep := h.HandlePanic(r, info)
			report = &rep
		}
	}()
	fn()
	return nil
}

// HandlePanic records a recovered panic value.
func (h *CrashHandler) HandlePanic(panicValue any, contextInfo map[string]any) CrashReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    h.component,
		Context:      contextInfo,
	}

	path, err := h.writeCrashDump(report)

	fmt.Fprintf(h.stderr, "chordd: panic: %s\n", report.PanicValue)
	if err != nil {
		fmt.Fprintf(h.stderr, "chordd: crash report not written: %v\n", err)
	} else {
		fmt.Fprintf(h.stderr, "chordd: crash report written to %s\n", path)
	}

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return report
}

func (h *CrashHandler) writeCrashDump(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.crashDir, 0o750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}

	h.seq++
	name := fmt.Sprintf("crash-%s-%s-%d.json",
		report.Component,
		report.Timestamp.Format("20060102-150405"), h.seq)
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// GetCrashReports returns stored crash reports, oldest first.
func (h *CrashHandler) GetCrashReports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// CleanupOldCrashReports removes crash reports older than maxAge.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}
