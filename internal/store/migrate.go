package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied once each, in order, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "deliveries table",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			webhook_event_id TEXT NOT NULL DEFAULT '',
			delivery_id      TEXT NOT NULL,
			sender_id        TEXT NOT NULL DEFAULT '',
			case_id          TEXT NOT NULL DEFAULT '',
			outcome          TEXT NOT NULL,
			error            TEXT NOT NULL DEFAULT '',
			replied          INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
		CREATE INDEX IF NOT EXISTS idx_deliveries_delivery ON deliveries(delivery_id);
		`,
	},
	{
		Version:     2,
		Description: "unique webhook event ids",
		SQL: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_event
			ON deliveries(webhook_event_id) WHERE webhook_event_id != '';
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
