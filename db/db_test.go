package db

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMemoryLogRecentNewestFirst(t *testing.T) {
	m := NewMemoryLog(3)
	ctx := context.Background()
	for _, name := range []string{"ping", "ai", "help", "play"} {
		if err := m.Record(ctx, Entry{Command: name, Status: "ok"}); err != nil {
			t.Fatalf("Record(%s) error = %v", name, err)
		}
	}
	got, err := m.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []string{"play", "help", "ai"}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Command != w {
			t.Errorf("entry %d = %s, want %s", i, got[i].Command, w)
		}
	}
	if got[0].ID != 4 || got[0].CreatedAt.IsZero() {
		t.Errorf("newest entry id=%d created=%v, want id 4 and a timestamp", got[0].ID, got[0].CreatedAt)
	}

	limited, _ := m.Recent(ctx, 1)
	if len(limited) != 1 || limited[0].Command != "play" {
		t.Errorf("Recent(1) = %+v", limited)
	}
}

func TestMemoryLogCountsSurviveEviction(t *testing.T) {
	m := NewMemoryLog(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = m.Record(ctx, Entry{Command: "ai", Status: "ok"})
	}
	_ = m.Record(ctx, Entry{Command: "ping", Status: "ok"})
	counts, err := m.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts["ai"] != 5 || counts["ping"] != 1 {
		t.Errorf("Counts() = %v, want ai=5 ping=1", counts)
	}
	if err := m.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestMemoryLogEmpty(t *testing.T) {
	got, err := NewMemoryLog(0).Recent(context.Background(), 5)
	if err != nil || len(got) != 0 {
		t.Errorf("Recent() on empty log = %v, %v", got, err)
	}
}

func TestPostgresLog(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres command log test")
	}
	ctx := context.Background()
	database, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()
	if err := Migrate(ctx, database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := Migrate(ctx, database); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	if _, err := database.ExecContext(ctx, `DELETE FROM command_log WHERE command LIKE 'test_%'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	log := &PostgresLog{DB: database}
	if err := log.Record(ctx, Entry{Command: "test_ai", UserID: "u1", GuildID: "g1", Status: "ok", Latency: 42 * time.Millisecond}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	recent, err := log.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) == 0 || recent[0].Command != "test_ai" || recent[0].Latency != 42*time.Millisecond {
		t.Errorf("Recent() = %+v", recent)
	}
	counts, err := log.Counts(ctx)
	if err != nil || counts["test_ai"] < 1 {
		t.Errorf("Counts() = %v, %v", counts, err)
	}
}
