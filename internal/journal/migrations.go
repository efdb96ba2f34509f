package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one step of the journal schema.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Settlements table",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Daemon runs and settlement run ids",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS settlements (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    keycode     INTEGER NOT NULL,
    key_row     INTEGER NOT NULL,
    key_col     INTEGER NOT NULL,
    outcome     INTEGER NOT NULL,
    reason      INTEGER NOT NULL,
    other       INTEGER NOT NULL DEFAULT 0,
    eager       INTEGER NOT NULL DEFAULT 0,
    pressed_ns  INTEGER NOT NULL,
    settled_ns  INTEGER NOT NULL,
    latency_us  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_settled ON settlements(settled_ns);
CREATE INDEX IF NOT EXISTS idx_settlements_keycode ON settlements(keycode, settled_ns);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_settlements_keycode;
DROP INDEX IF EXISTS idx_settlements_settled;
DROP TABLE IF EXISTS settlements;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_ns  INTEGER NOT NULL,
    stopped_ns  INTEGER,
    version     TEXT NOT NULL,
    policy      TEXT
);

ALTER TABLE settlements ADD COLUMN run_id INTEGER;
CREATE INDEX IF NOT EXISTS idx_settlements_run ON settlements(run_id);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_settlements_run;
ALTER TABLE settlements DROP COLUMN run_id;
DROP TABLE IF EXISTS runs;
`

// MigrateDB applies all pending migrations.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == current {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", current)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", current, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: len(migrations)}

	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		// Table might not exist yet.
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[v] = true
		if v > status.CurrentVersion {
			status.CurrentVersion = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	for _, m := range migrations {
		if !applied[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"settlements", "runs", "schema_migrations"} {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
