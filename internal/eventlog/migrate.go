package eventlog

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// step upgrades the events schema by one version. The applied version is
// kept in SQLite's user_version header field.
type step struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var steps = []step{
	{1, "events table", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			source      TEXT DEFAULT '',
			request_id  TEXT DEFAULT '',
			chat        TEXT DEFAULT '',
			type        TEXT DEFAULT '',
			body        TEXT DEFAULT '',
			message_id  TEXT DEFAULT '',
			error       TEXT DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at);`)
		return err
	}},
	{2, "send latency and per-kind index", func(tx *sql.Tx) error {
		ok, err := hasColumn(tx, "events", "latency_ms")
		if err != nil {
			return err
		}
		if !ok {
			if _, err := tx.Exec(`ALTER TABLE events ADD COLUMN latency_ms INTEGER DEFAULT 0`); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, created_at)`)
		return err
	}},
}

// latestVersion is the version a fully migrated file reports.
var latestVersion = steps[len(steps)-1].version

// Migrate brings db up to latestVersion. Each step commits on its own so an
// interrupted upgrade resumes where it stopped.
func Migrate(db *sql.DB, logger *slog.Logger) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > latestVersion {
		return fmt.Errorf("event log schema v%d is newer than this build (v%d)", current, latestVersion)
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		logger.Info("migrating event log", "version", s.version, "step", s.name)
		if err := runStep(db, s); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", s.version, s.name, err)
		}
	}
	return nil
}

func runStep(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", s.version)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version, 0 for a fresh file.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
