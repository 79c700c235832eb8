package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/chinnucsk/bidder-gateway/internal/store"
)

func TestSQLiteMinimalAPI(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec := store.Record{
		Name:        "bidA",
		Executable:  "bidA",
		Params:      map[string]string{"x": "1", "y": "two"},
		Config:      json.RawMessage(`{"k":1}`),
		PID:         4242,
		ExternalRef: "bidA4242",
		LogPath:     "/logs/bidder_bidA.log",
		StartUnix:   1700000000,
		StartedAt:   now,
	}
	if err := db.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	g := got[0]
	if g.PID != 4242 || g.ExternalRef != "bidA4242" || g.Params["y"] != "two" || g.StartUnix != 1700000000 {
		t.Fatalf("unexpected record: %+v", g)
	}
	if string(g.Config) != `{"k":1}` {
		t.Fatalf("unexpected config: %s", g.Config)
	}

	// upsert by name
	rec.PID = 4343
	rec.ExternalRef = "bidA4343"
	if err := db.Save(ctx, rec); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = db.LoadAll(ctx)
	if len(got) != 1 || got[0].PID != 4343 {
		t.Fatalf("expected upsert, got %+v", got)
	}

	if err := db.Delete(ctx, "bidA"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.Delete(ctx, "bidA"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	got, _ = db.LoadAll(ctx)
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %+v", got)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidders.db")
	ctx := context.Background()
	db, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, n := range []string{"b", "a", "c"} {
		if err := db.Save(ctx, store.Record{Name: n, Executable: n, PID: 1, StartedAt: time.Now()}); err != nil {
			t.Fatalf("save %s: %v", n, err)
		}
	}
	_ = db.Close()

	db2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	got, err := db2.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 || got[0].Name != "a" || got[2].Name != "c" {
		t.Fatalf("unexpected records after reopen: %+v", got)
	}
	if got[0].Params == nil {
		t.Fatalf("params should decode to an empty map")
	}
}

func TestSQLiteEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
