// Package logging provides structured logging with slog for chordd.
//
// Features:
//   - JSON and text output formats
//   - Log levels (debug, info, warn, error)
//   - Keystroke redaction
//   - Log rotation with zstd compressed backups
//   - Platform-specific default paths
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"chordd/internal/config"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Redacted replaces the value of redacted attributes.
const Redacted = "[REDACTED]"

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output specifies where logs are written.
	// Can be "stdout", "stderr", "file", or "both".
	Output string

	// Writer, when set, receives all output and Output is ignored.
	Writer io.Writer

	// FilePath is the path to the log file when Output includes "file".
	FilePath string

	// MaxSize is the maximum size of a log file in megabytes before rotation.
	MaxSize int64

	// MaxAge is the maximum age of log files in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated log files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be zstd compressed.
	Compress bool

	// AddSource adds source file and line to log entries.
	AddSource bool

	// RedactKeystrokes hides which keys were typed. Engine traces name
	// every key and would otherwise record everything the user types.
	RedactKeystrokes bool

	// Component is the name of the component using this logger.
	Component string
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:            LevelInfo,
		Format:           FormatText,
		Output:           "stderr",
		FilePath:         defaultLogPath(),
		MaxSize:          10,
		MaxAge:           14,
		MaxBackups:       3,
		Compress:         true,
		AddSource:        false,
		RedactKeystrokes: true,
		Component:        "chordd",
	}
}

// FromConfig converts the [logging] section of the daemon configuration.
func FromConfig(lc *config.LoggingConfig) (*Config, error) {
	level, err := ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = lc.Output
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	cfg.MaxSize = int64(lc.MaxSizeMB)
	cfg.MaxBackups = lc.MaxBackups
	cfg.MaxAge = lc.MaxAgeDays
	cfg.Compress = lc.Compress
	cfg.RedactKeystrokes = !lc.LogKeystrokes
	return cfg, nil
}

// defaultLogPath returns the platform-specific default log path.
func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "chordd", "chordd.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "chordd", "chordd.log")
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config  *Config
	writers []io.Writer
	rotator *FileRotator
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// Default returns the default global logger.
func Default() *Logger {
	loggerOnce.Do(func() {
		if defaultLogger != nil {
			return
		}
		var err error
		defaultLogger, err = New(DefaultConfig())
		if err != nil {
			defaultLogger = &Logger{
				Logger: slog.Default(),
				config: DefaultConfig(),
			}
		}
	})
	return defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// New creates a new Logger with the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		config:  cfg,
		writers: make([]io.Writer, 0),
	}

	if err := l.setupWriters(); err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	var w io.Writer
	if len(l.writers) == 1 {
		w = l.writers[0]
	} else {
		w = io.MultiWriter(l.writers...)
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if cfg.RedactKeystrokes && isKeystroke(a.Key) {
				a.Value = slog.StringValue(Redacted)
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("component", cfg.Component),
		})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// setupWriters configures the output writers based on config.
func (l *Logger) setupWriters() error {
	if l.config.Writer != nil {
		l.writers = append(l.writers, l.config.Writer)
		return nil
	}

	switch strings.ToLower(l.config.Output) {
	case "stdout":
		l.writers = append(l.writers, os.Stdout)
	case "file":
		rotator, err := NewFileRotator(l.config)
		if err != nil {
			return err
		}
		l.rotator = rotator
		l.writers = append(l.writers, rotator)
	case "both":
		l.writers = append(l.writers, os.Stderr)
		rotator, err := NewFileRotator(l.config)
		if err != nil {
			return err
		}
		l.rotator = rotator
		l.writers = append(l.writers, rotator)
	default:
		l.writers = append(l.writers, os.Stderr)
	}
	return nil
}

// keystrokeKeys are the attribute keys that carry typed keys.
var keystrokeKeys = map[string]bool{
	"key":     true,
	"keycode": true,
	"other":   true,
	"tap":     true,
	"code":    true,
}

func isKeystroke(key string) bool {
	return keystrokeKeys[strings.ToLower(key)]
}

// WithComponent returns a new logger with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		config:  l.config,
		writers: l.writers,
		rotator: l.rotator,
	}
}

// Close closes any open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}
