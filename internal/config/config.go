// Package config handles configuration loading, validation, and management for chordd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 2

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine holds loop timing for the chord engine.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Timeouts holds hold timeouts for dual-role keys.
	Timeouts TimeoutsConfig `toml:"timeouts" json:"timeouts" yaml:"timeouts"`

	// Chord holds the chord (hold) eligibility rules.
	Chord ChordConfig `toml:"chord" json:"chord" yaml:"chord"`

	// Eager holds eager modifier configuration.
	Eager EagerConfig `toml:"eager" json:"eager" yaml:"eager"`

	// Streak holds typing streak configuration.
	Streak StreakConfig `toml:"streak" json:"streak" yaml:"streak"`

	// Keymap holds the layered keymap.
	Keymap KeymapConfig `toml:"keymap" json:"keymap" yaml:"keymap"`

	// Input holds the physical keyboard configuration.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Output holds the virtual keyboard configuration.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`

	// Journal holds the settlement journal configuration.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Metrics holds the metrics endpoint configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// DBus holds the session bus configuration.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// EngineConfig holds engine loop timing.
type EngineConfig struct {
	// TapCodeDelayMs is the delay between a synthetic tap press and release.
	TapCodeDelayMs int `toml:"tap_code_delay_ms" json:"tap_code_delay_ms" yaml:"tap_code_delay_ms"`

	// TickIntervalMs is how often pending keys are checked for timeouts.
	TickIntervalMs int `toml:"tick_interval_ms" json:"tick_interval_ms" yaml:"tick_interval_ms"`

	// HoldTimeoutMs is the version 1 location of Timeouts.DefaultMs.
	// Deprecated: migrated on load.
	HoldTimeoutMs int `toml:"hold_timeout_ms,omitempty" json:"hold_timeout_ms,omitempty" yaml:"hold_timeout_ms,omitempty"`
}

// TimeoutsConfig holds hold timeouts.
type TimeoutsConfig struct {
	// DefaultMs is the hold timeout for dual-role keys without an override.
	// 0 leaves dual-role keys to the host's own tap-hold handling.
	DefaultMs int `toml:"default_ms" json:"default_ms" yaml:"default_ms"`

	// PerKey overrides the hold timeout by keycode, e.g. "LSFT_T(F)" = 250.
	PerKey map[string]int `toml:"per_key" json:"per_key" yaml:"per_key"`

	// Pairs overrides the streak chord window for specific key pairs.
	Pairs []PairTimeout `toml:"pairs" json:"pairs" yaml:"pairs"`
}

// PairTimeout is a streak chord window for one pending/next key pair.
type PairTimeout struct {
	Pending   string `toml:"pending" json:"pending" yaml:"pending"`
	Other     string `toml:"other" json:"other" yaml:"other"`
	TimeoutMs int    `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// ChordConfig holds chord eligibility configuration.
type ChordConfig struct {
	// Rows and Cols are the matrix dimensions used for hand detection.
	Rows int `toml:"rows" json:"rows" yaml:"rows"`
	Cols int `toml:"cols" json:"cols" yaml:"cols"`

	// Split marks a split board whose left half occupies the first
	// Rows/2 matrix rows.
	Split bool `toml:"split" json:"split" yaml:"split"`

	// HoldOnOtherModifier settles as hold when the other key is a
	// modifier keycode or an undecided dual-role key, even on the same
	// hand.
	HoldOnOtherModifier bool `toml:"hold_on_other_modifier" json:"hold_on_other_modifier" yaml:"hold_on_other_modifier"`

	// SameHandHoldKeys lists dual-role keys that chord with any key.
	SameHandHoldKeys []string `toml:"same_hand_hold_keys" json:"same_hand_hold_keys" yaml:"same_hand_hold_keys"`
}

// EagerConfig holds eager modifier configuration.
type EagerConfig struct {
	// Enabled applies mod-tap mods at press time.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Mods lists the modifiers that may be applied eagerly.
	Mods []string `toml:"mods" json:"mods" yaml:"mods"`
}

// StreakConfig holds typing streak configuration.
type StreakConfig struct {
	// Enabled turns on typing streak detection.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// TimeoutMs is the chord window after the last streak keystroke.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// ExpiryMs clears an idle streak.
	ExpiryMs int `toml:"expiry_ms" json:"expiry_ms" yaml:"expiry_ms"`

	// ContinueKeys lists non-letter keys that extend a streak.
	ContinueKeys []string `toml:"continue_keys" json:"continue_keys" yaml:"continue_keys"`
}

// KeymapConfig holds the layered keymap. Each layer is a list of rows and
// each row a whitespace separated list of keycode specifications.
type KeymapConfig struct {
	Layers [][]string `toml:"layers" json:"layers" yaml:"layers"`
}

// InputConfig holds physical keyboard configuration.
type InputConfig struct {
	// Device is the evdev device path. Empty selects the first keyboard.
	Device string `toml:"device" json:"device" yaml:"device"`

	// Grab takes the device exclusively so only chordd sees its events.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`
}

// OutputConfig holds virtual keyboard configuration.
type OutputConfig struct {
	// Name is the uinput device name.
	Name string `toml:"name" json:"name" yaml:"name"`
}

// JournalConfig holds settlement journal configuration.
type JournalConfig struct {
	// Enabled records every settlement to the journal database.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the journal database.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes settlements older than this. 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled serves metrics over HTTP.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the listen address, e.g. "127.0.0.1:9464".
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// DBusConfig holds session bus configuration.
type DBusConfig struct {
	// Enabled exports the engine on the session bus.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// LogKeystrokes writes typed keys into debug traces instead of
	// redacting them.
	LogKeystrokes bool `toml:"log_keystrokes" json:"log_keystrokes" yaml:"log_keystrokes"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			TapCodeDelayMs: 0,
			TickIntervalMs: 1,
		},
		Timeouts: TimeoutsConfig{
			DefaultMs: 1000,
			PerKey:    map[string]int{},
			Pairs:     []PairTimeout{},
		},
		Chord: ChordConfig{
			Rows:                DefaultRows,
			Cols:                DefaultCols,
			Split:               false,
			HoldOnOtherModifier: true,
			SameHandHoldKeys:    []string{},
		},
		Eager: EagerConfig{
			Enabled: false,
			Mods:    []string{"SHIFT", "CTRL"},
		},
		Streak: StreakConfig{
			Enabled:      false,
			TimeoutMs:    200,
			ExpiryMs:     800,
			ContinueKeys: []string{"DOT", "COMM", "QUOT", "SPC"},
		},
		Keymap: KeymapConfig{
			Layers: DefaultKeymap(),
		},
		Input: InputConfig{
			Device: "",
			Grab:   true,
		},
		Output: OutputConfig{
			Name: "chordd virtual keyboard",
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          filepath.Join(dir, "journal.db"),
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		DBus: DBusConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "chordd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if path := FindConfigFile(); path != "" {
		return path
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{DataDir()}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DataDir returns the base chordd data directory.
// Uses platform-specific paths or CHORDD_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("CHORDD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with CHORDD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Input overrides
	if v := os.Getenv("CHORDD_DEVICE"); v != "" {
		c.Input.Device = v
	}

	// Timeout overrides
	if v := os.Getenv("CHORDD_HOLD_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Timeouts.DefaultMs = ms
		}
	}
	if v := os.Getenv("CHORDD_EAGER_MODS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Eager.Enabled = b
		}
	}
	if v := os.Getenv("CHORDD_STREAK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Streak.Enabled = b
		}
	}

	// Journal overrides
	if v := os.Getenv("CHORDD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}

	// Metrics overrides
	if v := os.Getenv("CHORDD_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	// Logging overrides
	if v := os.Getenv("CHORDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHORDD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Engine:   c.Engine,
		Timeouts: c.Timeouts,
		Chord:    c.Chord,
		Eager:    c.Eager,
		Streak:   c.Streak,
		Keymap:   c.Keymap,
		Input:    c.Input,
		Output:   c.Output,
		Journal:  c.Journal,
		Metrics:  c.Metrics,
		DBus:     c.DBus,
		Logging:  c.Logging,
	}

	// Deep copy slices and maps
	clone.Timeouts.PerKey = make(map[string]int, len(c.Timeouts.PerKey))
	for k, v := range c.Timeouts.PerKey {
		clone.Timeouts.PerKey[k] = v
	}
	clone.Timeouts.Pairs = append([]PairTimeout{}, c.Timeouts.Pairs...)
	clone.Chord.SameHandHoldKeys = append([]string{}, c.Chord.SameHandHoldKeys...)
	clone.Eager.Mods = append([]string{}, c.Eager.Mods...)
	clone.Streak.ContinueKeys = append([]string{}, c.Streak.ContinueKeys...)
	clone.Keymap.Layers = make([][]string, len(c.Keymap.Layers))
	for i, layer := range c.Keymap.Layers {
		clone.Keymap.Layers[i] = append([]string{}, layer...)
	}

	return clone
}

// TickInterval returns the engine tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalMs) * time.Millisecond
}

// TapCodeDelay returns the delay between a synthetic tap press and release.
func (c *Config) TapCodeDelay() time.Duration {
	return time.Duration(c.Engine.TapCodeDelayMs) * time.Millisecond
}

// decodeTOML decodes TOML into cfg, rejecting keys that map to no field.
func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return nil
}
