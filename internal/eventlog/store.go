// Package eventlog keeps a SQLite audit trail of session lifecycle events and
// inbound/outbound messages.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"isazap/internal/domain"
)

const defaultRecentLimit = 50

const eventColumns = `id, kind, source, request_id, chat, type, body, message_id, error, latency_ms, created_at`

// SQLiteStore implements domain.EventStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.EventStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the event database at dbPath and
// migrates it to the current schema.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// modernc sqlite serializes writers anyway; one connection keeps WAL simple.
	db.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}

// Record stores rec, filling in an ID and timestamp when missing.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.EventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Source, rec.RequestID, rec.Chat, rec.Type, rec.Body,
		rec.MessageID, rec.Error, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", rec.Kind, err)
	}
	return nil
}

// Recent returns the newest records first. An empty kind matches every kind.
func (s *SQLiteStore) Recent(ctx context.Context, kind string, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRecord reads one row. Columns added by later migrations are NULL on
// rows written before them.
func scanRecord(rows *sql.Rows) (domain.EventRecord, error) {
	var (
		r       domain.EventRecord
		text    [7]sql.NullString
		latency sql.NullInt64
	)
	err := rows.Scan(&r.ID, &r.Kind, &text[0], &text[1], &text[2], &text[3], &text[4],
		&text[5], &text[6], &latency, &r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("scan event: %w", err)
	}
	r.Source, r.RequestID, r.Chat = text[0].String, text[1].String, text[2].String
	r.Type, r.Body, r.MessageID, r.Error = text[3].String, text[4].String, text[5].String, text[6].String
	r.LatencyMs = latency.Int64
	return r, nil
}

// Prune deletes records older than before and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
