package storage

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations are applied in ascending version order, each in its own
// transaction, and recorded in schema_version.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Query log",
		SQL: `
			CREATE TABLE IF NOT EXISTS queries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				client_ip TEXT NOT NULL,
				domain TEXT NOT NULL,
				query_type TEXT NOT NULL,
				outcome TEXT NOT NULL,
				provider TEXT,
				answer TEXT,
				response_code INTEGER NOT NULL,
				response_time_ms REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
			CREATE INDEX IF NOT EXISTS idx_queries_client_timestamp ON queries(client_ip, timestamp);
		`,
	},
	{
		Version:     2,
		Description: "Per-client rule overrides",
		SQL: `
			CREATE TABLE IF NOT EXISTS rule_overrides (
				client TEXT PRIMARY KEY,
				entries TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			);
		`,
	},
}

// getMigrations returns all migrations sorted by version
func getMigrations() []Migration {
	result := make([]Migration, len(migrations))
	copy(result, migrations)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied version, 0 for a fresh
// database.
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// runMigrations brings the schema up to the newest version. A failing
// migration leaves the database at the last successful version.
func runMigrations(db *sql.DB) error {
	if err := ensureVersionTable(db); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range getMigrations() {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}
