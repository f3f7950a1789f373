package trace

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaSteps holds the trace schema history. Step i brings the database
// to version i+1; the applied version is kept in PRAGMA user_version.
var schemaSteps = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS call_traces (
			id            TEXT PRIMARY KEY,
			timestamp_ms  INTEGER NOT NULL,
			session_id    TEXT NOT NULL DEFAULT '',
			message_type  TEXT NOT NULL,
			message       TEXT NOT NULL DEFAULT '',
			response_ms   INTEGER DEFAULT 0,
			token_count   INTEGER DEFAULT 0,
			status        TEXT NOT NULL,
			metadata      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_traces_time ON call_traces(timestamp_ms)`,
	},
	{
		`ALTER TABLE call_traces ADD COLUMN confidence REAL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_call_traces_session ON call_traces(session_id, timestamp_ms)`,
	},
}

var schemaVersion = len(schemaSteps)

// RunMigrations brings db up to schemaVersion. Each step commits together
// with its version bump, so a failed step is retried whole on the next open.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("trace database schema v%d is newer than this build (v%d)", current, schemaVersion)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		logger.Info("migrating trace database", "version", v)
		if err := applyStep(db, v, schemaSteps[v-1]); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(db *sql.DB, version int, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema v%d: %w", version, err)
	}
	defer tx.Rollback()

	for i, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("schema v%d statement %d: %w", version, i+1, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("record schema v%d: %w", version, err)
	}
	return tx.Commit()
}

// SchemaVersion reports the applied schema version; 0 for a new database.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}
