package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"isazap/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sub", "events.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_FreshDB(t *testing.T) {
	db := openRaw(t)

	if v, err := SchemaVersion(db); err != nil || v != 0 {
		t.Fatalf("fresh file: got %d, %v", v, err)
	}
	if err := Migrate(db, testLogger()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := Migrate(db, testLogger()); err != nil {
		t.Fatalf("second run must be a no-op: %v", err)
	}
	if v, _ := SchemaVersion(db); v != latestVersion {
		t.Errorf("expected version %d, got %d", latestVersion, v)
	}
}

func TestMigrate_ColumnAlreadyPresent(t *testing.T) {
	db := openRaw(t)

	// v1 recorded, the v2 column added by hand.
	if _, err := db.Exec(`CREATE TABLE events (id TEXT PRIMARY KEY, kind TEXT NOT NULL, created_at DATETIME);
		ALTER TABLE events ADD COLUMN latency_ms INTEGER DEFAULT 0;
		PRAGMA user_version = 1;`); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db, testLogger()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if v, _ := SchemaVersion(db); v != latestVersion {
		t.Errorf("expected version %d, got %d", latestVersion, v)
	}
}

func TestMigrate_RefusesNewerSchema(t *testing.T) {
	db := openRaw(t)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", latestVersion+1)); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db, testLogger()); err == nil {
		t.Error("expected error for a schema from a newer build")
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	recs := []domain.EventRecord{
		{Kind: domain.KindLifecycle, Type: "ready", CreatedAt: base},
		{Kind: domain.KindInbound, Chat: "5541@c.us", Type: "chat", Body: "1", MessageID: "in-1", CreatedAt: base.Add(time.Second)},
		{Kind: domain.KindOutbound, Source: domain.SourceAPI, RequestID: "req-1", Chat: "5541@c.us",
			Type: "text", Body: "oi", MessageID: "out-1", LatencyMs: 42, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Kind != domain.KindOutbound || all[2].Kind != domain.KindLifecycle {
		t.Errorf("expected newest first, got %s..%s", all[0].Kind, all[2].Kind)
	}
	out := all[0]
	if out.ID == "" || out.RequestID != "req-1" || out.LatencyMs != 42 || out.MessageID != "out-1" {
		t.Errorf("round trip lost fields: %+v", out)
	}

	inbound, err := s.Recent(ctx, domain.KindInbound, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbound) != 1 || inbound[0].Body != "1" {
		t.Errorf("unexpected inbound filter result %+v", inbound)
	}

	limited, _ := s.Recent(ctx, "", 2)
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestStore_Prune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, domain.EventRecord{Kind: domain.KindLifecycle, Type: "qr", CreatedAt: now.Add(-100 * 24 * time.Hour)})
	s.Record(ctx, domain.EventRecord{Kind: domain.KindLifecycle, Type: "ready", CreatedAt: now})

	n, err := s.Prune(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	left, _ := s.Recent(ctx, "", 10)
	if len(left) != 1 || left[0].Type != "ready" {
		t.Errorf("unexpected remaining rows %+v", left)
	}
}

func TestRecorder_WritesSendsAndEvents(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s, testLogger())

	r.HandleEvent(domain.SessionEvent{Type: domain.EventReady})
	r.HandleEvent(domain.SessionEvent{Type: domain.EventMessage, Message: &domain.InboundMessage{
		ID: "in-1", From: "5541@c.us", Body: "oi", Type: domain.TypeChat,
	}})
	r.HandleEvent(domain.SessionEvent{Type: domain.EventMessage}) // no payload, skipped
	r.ObserveSend(domain.SendRecord{
		Source: domain.SourceResponder, To: "5541@c.us", Kind: "media", Body: "indice.pdf",
		Err: errors.New("session not ready"), Latency: 15 * time.Millisecond,
	})
	r.Close()
	r.ObserveSend(domain.SendRecord{To: "after-close"}) // ignored

	all, err := s.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(all), all)
	}
	kinds := map[string]domain.EventRecord{}
	for _, rec := range all {
		kinds[rec.Kind] = rec
	}
	if kinds[domain.KindLifecycle].Type != "ready" {
		t.Errorf("lifecycle not recorded: %+v", kinds[domain.KindLifecycle])
	}
	if kinds[domain.KindInbound].MessageID != "in-1" {
		t.Errorf("inbound not recorded: %+v", kinds[domain.KindInbound])
	}
	out := kinds[domain.KindOutbound]
	if out.Error != "session not ready" || out.Source != domain.SourceResponder || out.LatencyMs != 15 {
		t.Errorf("outbound not recorded: %+v", out)
	}
}

func TestRecorder_PruneLoopStopsOnCancel(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s, testLogger())
	defer r.Close()

	s.Record(context.Background(), domain.EventRecord{Kind: domain.KindLifecycle, CreatedAt: time.Now().Add(-48 * time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.PruneLoop(ctx, 24*time.Hour, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		left, _ := s.Recent(context.Background(), "", 10)
		if len(left) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial prune did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PruneLoop did not return")
	}
}
