package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"chordd/internal/keycode"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// MaxLayers is the number of keymap layers a layer-tap key can address.
const MaxLayers = 16

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not fail validation.
func ValidateConfig(c *Config) error {
	if errs := Check(c); errs.HasErrors() {
		return errs
	}
	return nil
}

// Check returns every validation issue, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateTimeouts(&c.Timeouts)...)
	errs = append(errs, validateChord(&c.Chord)...)
	errs = append(errs, validateEager(&c.Eager)...)
	errs = append(errs, validateStreak(&c.Streak)...)
	errs = append(errs, validateKeymap(&c.Keymap, &c.Chord)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.TapCodeDelayMs < 0 || e.TapCodeDelayMs > 100 {
		errs = append(errs, *RangeError("engine.tap_code_delay_ms", 0, 100))
	}
	if e.TickIntervalMs < 1 || e.TickIntervalMs > 50 {
		errs = append(errs, *RangeError("engine.tick_interval_ms", 1, 50))
	}

	return errs
}

func validateTimeouts(t *TimeoutsConfig) ValidationErrors {
	var errs ValidationErrors

	if t.DefaultMs < 0 || t.DefaultMs > 10000 {
		errs = append(errs, *RangeError("timeouts.default_ms", 0, 10000))
	}

	for spec, ms := range t.PerKey {
		field := fmt.Sprintf("timeouts.per_key[%s]", spec)
		if err := checkDualRole(field, spec); err != nil {
			errs = append(errs, *err)
		}
		if ms < 0 || ms > 10000 {
			errs = append(errs, *RangeError(field, 0, 10000))
		}
	}

	for i, p := range t.Pairs {
		field := fmt.Sprintf("timeouts.pairs[%d]", i)
		if err := checkDualRole(field+".pending", p.Pending); err != nil {
			errs = append(errs, *err)
		}
		if err := checkKeycode(field+".other", p.Other); err != nil {
			errs = append(errs, *err)
		}
		if p.TimeoutMs < 0 || p.TimeoutMs > 10000 {
			errs = append(errs, *RangeError(field+".timeout_ms", 0, 10000))
		}
	}

	return errs
}

func validateChord(c *ChordConfig) ValidationErrors {
	var errs ValidationErrors

	if c.Rows < 1 || c.Rows > 255 {
		errs = append(errs, *RangeError("chord.rows", 1, 255))
	}
	if c.Cols < 1 || c.Cols > 255 {
		errs = append(errs, *RangeError("chord.cols", 1, 255))
	}
	if c.Split && c.Rows%2 != 0 {
		errs = append(errs, ValidationError{
			Field:   "chord.rows",
			Message: "a split board needs an even number of rows",
		})
	}
	for i, spec := range c.SameHandHoldKeys {
		if err := checkDualRole(fmt.Sprintf("chord.same_hand_hold_keys[%d]", i), spec); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

func validateEager(e *EagerConfig) ValidationErrors {
	var errs ValidationErrors

	for i, m := range e.Mods {
		if _, err := keycode.ParseModMask(m); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("eager.mods[%d]", i),
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateStreak(s *StreakConfig) ValidationErrors {
	var errs ValidationErrors

	if s.TimeoutMs < 0 || s.TimeoutMs > 5000 {
		errs = append(errs, *RangeError("streak.timeout_ms", 0, 5000))
	}
	if s.ExpiryMs < 0 || s.ExpiryMs > 60000 {
		errs = append(errs, *RangeError("streak.expiry_ms", 0, 60000))
	}
	if s.Enabled && s.ExpiryMs > 0 && s.ExpiryMs < s.TimeoutMs {
		errs = append(errs, ValidationError{
			Field:   "streak.expiry_ms",
			Message: "expiry is shorter than the streak timeout; the streak would never apply",
		})
	}
	for i, spec := range s.ContinueKeys {
		if err := checkKeycode(fmt.Sprintf("streak.continue_keys[%d]", i), spec); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

func validateKeymap(k *KeymapConfig, c *ChordConfig) ValidationErrors {
	var errs ValidationErrors

	if len(k.Layers) == 0 {
		errs = append(errs, *RequiredFieldError("keymap.layers"))
		return errs
	}
	if len(k.Layers) > MaxLayers {
		errs = append(errs, *RangeError("keymap.layers", 1, MaxLayers))
	}

	for l, layer := range k.Layers {
		if len(layer) > c.Rows {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("keymap.layers[%d]", l),
				Message: fmt.Sprintf("%d rows exceed chord.rows (%d)", len(layer), c.Rows),
			})
		}
		for r, row := range layer {
			specs := strings.Fields(row)
			if len(specs) > c.Cols {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("keymap.layers[%d][%d]", l, r),
					Message: fmt.Sprintf("%d keys exceed chord.cols (%d)", len(specs), c.Cols),
				})
			}
			for col, spec := range specs {
				field := fmt.Sprintf("keymap.layers[%d][%d][%d]", l, r, col)
				kc, err := keycode.Parse(spec)
				if err != nil {
					errs = append(errs, ValidationError{Field: field, Message: err.Error()})
					continue
				}
				if kc.IsLayerTap() && int(kc.LayerTapLayer()) >= len(k.Layers) {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("layer %d is not defined", kc.LayerTapLayer()),
					})
				}
				if l == 0 && kc == keycode.Transparent {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: "transparent key on the base layer (warning)",
					})
				}
			}
		}
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if j.Enabled && j.Path == "" {
		errs = append(errs, *RequiredFieldError("journal.path"))
	}
	if j.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.retention_days",
			Message: "retention cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled {
		if _, _, err := net.SplitHostPort(m.Listen); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen",
				Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// Helper functions

func checkKeycode(field, spec string) *ValidationError {
	if _, err := keycode.Parse(spec); err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	return nil
}

func checkDualRole(field, spec string) *ValidationError {
	kc, err := keycode.Parse(spec)
	if err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	if !kc.IsTapHold() {
		return &ValidationError{Field: field, Message: spec + " is not a dual-role key"}
	}
	return nil
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return strings.HasSuffix(e.Message, "(warning)")
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
