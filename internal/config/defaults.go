package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Default matrix dimensions of the built-in ANSI layout.
const (
	DefaultRows = 6
	DefaultCols = 14
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/chordd/
//   - Linux:   ~/.local/share/chordd/
//
// Falls back to ~/.chordd if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/chordd/
//   - Linux:   ~/.config/chordd/
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxConfigDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "chordd")
	case "linux":
		return filepath.Join(linuxDataDir(), "logs")
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory.
//
// Platform paths:
//   - Linux: $XDG_RUNTIME_DIR/chordd/ or /tmp/chordd-$UID/
//   - other: /tmp/chordd-$UID/
func PlatformRuntimeDir() string {
	if runtime.GOOS == "linux" {
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "chordd")
		}
	}
	return filepath.Join(os.TempDir(), "chordd-"+strconv.Itoa(os.Getuid()))
}

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "chordd")
}

// Linux paths follow the XDG Base Directory Specification.

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "chordd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chordd")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chordd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chordd")
}

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chordd")
}

// DefaultKeymap returns the built-in keymap for an ANSI board: home row
// mods on layer 0 and arrows on HJKL in layer 1, reached by holding
// space. Row 5 is the function row.
func DefaultKeymap() [][]string {
	return [][]string{
		{
			"GRV   1         2         3         4         5 6 7         8         9         0            MINS EQL  BSPC",
			"TAB   Q         W         E         R         T Y U         I         O         P            LBRC RBRC BSLS",
			"CAPS  LGUI_T(A) LALT_T(S) LCTL_T(D) LSFT_T(F) G H RSFT_T(J) RCTL_T(K) LALT_T(L) RGUI_T(SCLN) QUOT ENT  INS",
			"LSFT  Z         X         C         V         B N M         COMM      DOT       SLSH         RSFT UP   PGUP",
			"LCTL  LGUI      LALT      LT(1,SPC) RALT      RGUI NO RCTL LEFT DOWN RGHT HOME END PGDN",
			"ESC   F1        F2        F3        F4        F5 F6 F7        F8        F9        F10          F11  F12  DEL",
		},
		{
			"ESC  F1   F2   F3   F4   F5   F6   F7   F8   F9   F10  F11  F12  DEL",
			"TRNS TRNS TRNS TRNS TRNS TRNS HOME PGDN PGUP END  TRNS TRNS TRNS TRNS",
			"TRNS TRNS TRNS TRNS TRNS TRNS LEFT DOWN UP   RGHT TRNS TRNS TRNS TRNS",
			"TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS",
			"TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS TRNS",
		},
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	searchDirs := []string{
		PlatformConfigDir(),
		DataDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
