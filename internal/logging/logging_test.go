package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chordd/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, want := range []string{"debug", "info", "warn", "error"} {
		level, err := ParseLevel(want)
		if err != nil {
			t.Fatal(err)
		}
		if got := LevelString(level); got != want {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if !cfg.RedactKeystrokes {
		t.Error("keystrokes should be redacted by default")
	}
	if !strings.HasSuffix(cfg.FilePath, "chordd.log") {
		t.Errorf("unexpected default log path %s", cfg.FilePath)
	}
}

func TestFromConfig(t *testing.T) {
	lc := config.DefaultConfig().Logging
	lc.Level = "debug"
	lc.Format = "json"
	lc.LogKeystrokes = true
	lc.MaxSizeMB = 5

	cfg, err := FromConfig(&lc)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON {
		t.Errorf("level/format not applied: %v %v", cfg.Level, cfg.Format)
	}
	if cfg.RedactKeystrokes {
		t.Error("log_keystrokes should disable redaction")
	}
	if cfg.MaxSize != 5 {
		t.Errorf("expected MaxSize 5, got %d", cfg.MaxSize)
	}

	lc.Level = "loud"
	if _, err := FromConfig(&lc); err == nil {
		t.Error("expected error for unknown level")
	}
}

func newBufferLogger(t *testing.T, redact bool) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = LevelDebug
	cfg.Format = FormatJSON
	cfg.Writer = &buf
	cfg.RedactKeystrokes = redact

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestKeystrokeRedaction(t *testing.T) {
	logger, buf := newBufferLogger(t, true)
	logger.Debug("settled", "key", "MT(LSFT,A)", "other", "S", "outcome", "hold")

	entry := decodeLine(t, buf)
	if entry["key"] != Redacted || entry["other"] != Redacted {
		t.Errorf("keystrokes leaked: %v", entry)
	}
	if entry["outcome"] != "hold" {
		t.Errorf("outcome should not be redacted: %v", entry["outcome"])
	}
	if entry["component"] != "chordd" {
		t.Errorf("expected component chordd, got %v", entry["component"])
	}
}

func TestKeystrokesLoggedWhenEnabled(t *testing.T) {
	logger, buf := newBufferLogger(t, false)
	logger.Debug("settled", "key", "MT(LSFT,A)")

	entry := decodeLine(t, buf)
	if entry["key"] != "MT(LSFT,A)" {
		t.Errorf("expected key to be logged, got %v", entry["key"])
	}
}

func TestLoggerWithComponent(t *testing.T) {
	logger, buf := newBufferLogger(t, true)
	logger.WithComponent("journal").Info("opened")

	if !strings.Contains(buf.String(), `"component":"journal"`) {
		t.Errorf("component missing from %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Writer = &buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %s", buf.String())
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "chordd.log")

	rotator, err := NewFileRotator(&Config{
		FilePath:   logPath,
		MaxSize:    1,
		MaxAge:     7,
		MaxBackups: 3,
	})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
}

func TestRotateCompressesBackup(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "chordd.log")

	rotator, err := NewFileRotator(&Config{
		FilePath:   logPath,
		MaxSize:    1,
		MaxBackups: 3,
		Compress:   true,
	})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	if _, err := rotator.Write([]byte("before rotation\n")); err != nil {
		t.Fatal(err)
	}
	if err := rotator.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := rotator.Write([]byte("after rotation\n")); err != nil {
		t.Fatal(err)
	}
	if err := rotator.Close(); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "chordd-*.log"+CompressedExt))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one compressed backup, got %v", matches)
	}

	data, err := ReadCompressed(matches[0])
	if err != nil {
		t.Fatalf("ReadCompressed: %v", err)
	}
	if string(data) != "before rotation\n" {
		t.Errorf("unexpected backup contents %q", data)
	}

	current, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(current) != "after rotation\n" {
		t.Errorf("unexpected current contents %q", current)
	}
}

func TestRotateKeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "chordd.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		rotator.Write([]byte("line\n"))
		if err := rotator.Rotate(); err != nil {
			t.Fatal(err)
		}
		// Distinct timestamps in rotated names.
		time.Sleep(5 * time.Millisecond)
	}
	rotator.Close()

	files, err := rotator.GetLogFiles()
	if err != nil {
		t.Fatal(err)
	}
	// Current file plus two backups.
	if len(files) != 3 {
		t.Errorf("expected 3 log files, got %v", files)
	}
}

func TestCrashHandler(t *testing.T) {
	var stderr bytes.Buffer
	var seen []CrashReport
	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  t.TempDir(),
		Version:   "1.0.0",
		Component: "engine",
		Stderr:    &stderr,
		OnCrash:   func(r CrashReport) { seen = append(seen, r) },
	})

	handler.HandlePanic("test panic value", map[string]any{"state": "holding"})

	reports, err := handler.GetCrashReports()
	if err != nil {
		t.Fatalf("failed to get crash reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one crash report, got %d", len(reports))
	}
	report := reports[0]
	if report.PanicValue != "test panic value" {
		t.Errorf("unexpected panic value %q", report.PanicValue)
	}
	if report.Version != "1.0.0" || report.Component != "engine" {
		t.Errorf("unexpected version/component %q/%q", report.Version, report.Component)
	}
	if report.Context["state"] != "holding" {
		t.Errorf("context lost: %v", report.Context)
	}
	if len(seen) != 1 {
		t.Errorf("OnCrash called %d times", len(seen))
	}
	if !strings.Contains(stderr.String(), "crash report written") {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}

func TestCrashHandlerRecover(t *testing.T) {
	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Stderr:   &bytes.Buffer{},
	})

	ctxCalls := 0
	ctx := func() map[string]any {
		ctxCalls++
		return map[string]any{"pending": "MT(LSFT,A)"}
	}

	if rep := handler.Recover(ctx, func() {}); rep != nil {
		t.Error("no report expected without a panic")
	}
	if ctxCalls != 0 {
		t.Error("context evaluated without a panic")
	}

	rep := handler.Recover(ctx, func() { panic("replay loop") })
	if rep == nil {
		t.Fatal("expected a crash report")
	}
	if rep.PanicValue != "replay loop" || rep.Context["pending"] != "MT(LSFT,A)" {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestCrashHandlerCleanupOld(t *testing.T) {
	handler := NewCrashHandler(&CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Stderr:   &bytes.Buffer{},
	})

	for i := 0; i < 3; i++ {
		handler.HandlePanic("test panic", nil)
	}
	reports, _ := handler.GetCrashReports()
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}

	old := time.Now().Add(-48 * time.Hour)
	files, _ := filepath.Glob(filepath.Join(handler.Dir(), "crash-*.json"))
	for _, f := range files {
		os.Chtimes(f, old, old)
	}

	if err := handler.CleanupOldCrashReports(24 * time.Hour); err != nil {
		t.Fatalf("CleanupOldCrashReports failed: %v", err)
	}
	reports, _ = handler.GetCrashReports()
	if len(reports) != 0 {
		t.Errorf("expected old reports removed, %d left", len(reports))
	}
}
