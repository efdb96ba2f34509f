package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It creates a backup of the file at configPath before migrating.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath, cfg.Version)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// applyMigration applies a single version upgrade.
func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg)
	default:
		return nil, nil, fmt.Errorf("no migration from version %d", cfg.Version)
	}
	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 moves the hold timeout into the [timeouts] section.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	if cfg.Engine.HoldTimeoutMs > 0 {
		cfg.Timeouts.DefaultMs = cfg.Engine.HoldTimeoutMs
		cfg.Engine.HoldTimeoutMs = 0
		changes = append(changes, fmt.Sprintf("moved engine.hold_timeout_ms to timeouts.default_ms (%d)", cfg.Timeouts.DefaultMs))
	}
	if cfg.Streak.ExpiryMs == 0 {
		cfg.Streak.ExpiryMs = 800
		changes = append(changes, "set streak.expiry_ms to 800")
	}
	if cfg.Eager.Enabled && len(cfg.Eager.Mods) == 0 {
		cfg.Eager.Mods = []string{"SHIFT", "CTRL"}
		warnings = append(warnings, "eager.mods was empty; limited eager mods to SHIFT and CTRL")
	}
	return changes, warnings
}

func backupConfig(configPath string, version int) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.v%d.bak", configPath, version)
	if err := os.WriteFile(backup, data, 0600); err != nil {
		return "", err
	}
	return backup, nil
}

// SaveConfig saves the configuration to a file. The format follows the
// extension and defaults to TOML.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = encodeToTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func encodeToTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# chordd configuration\n# Version %d\n\n", cfg.Version)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
