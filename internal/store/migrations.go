package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// schema contains the DDL for the workflow tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		insert_id    INTEGER PRIMARY KEY,
		position     INTEGER NOT NULL,
		template     TEXT NOT NULL,
		element_sets TEXT NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS elements (
		task_insert_id INTEGER NOT NULL REFERENCES tasks(insert_id) ON DELETE CASCADE,
		idx            INTEGER NOT NULL,
		global_idx     INTEGER NOT NULL,
		data           TEXT NOT NULL,
		PRIMARY KEY (task_insert_id, idx)
	)`,

	`CREATE TABLE IF NOT EXISTS parameters (
		id          INTEGER PRIMARY KEY,
		is_set      INTEGER NOT NULL DEFAULT 0,
		data        TEXT,
		source      TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS components (
		kind     TEXT NOT NULL,
		position INTEGER NOT NULL,
		hash     TEXT NOT NULL,
		data     TEXT NOT NULL,
		PRIMARY KEY (kind, hash)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_position ON tasks(position)`,
	`CREATE INDEX IF NOT EXISTS idx_elements_global_idx ON elements(global_idx)`,
	`CREATE INDEX IF NOT EXISTS idx_parameters_source_type ON parameters(source_type)`,
}

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

// migrate creates the workflow tables. A file written by a newer schema is
// refused.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than %d", version, schemaVersion)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if version < schemaVersion {
		if _, err := db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}
