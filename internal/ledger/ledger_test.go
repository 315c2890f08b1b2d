package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"guestmail/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "sub", "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

var inquiry = domain.Inquiry{MessageID: "<m1@example.com>", From: "guest@example.com", Subject: "Checkout"}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	l := openTestLedger(t)
	v, err := schemaVersionOf(l.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, v)
	}

	for _, table := range []string{"replies", "attempts", "cycles", "schema_version"} {
		var name string
		if err := l.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RecordReply(context.Background(), inquiry); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l, err = Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	st, _ := l.State(context.Background(), inquiry.Key())
	if !st.Replied {
		t.Fatal("reply should survive reopen")
	}
}

func TestState_Unknown(t *testing.T) {
	st, err := openTestLedger(t).State(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if st != (State{}) {
		t.Fatalf("expected zero state, got %+v", st)
	}
}

func TestRecordReply_Idempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordReply(ctx, inquiry); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	st, _ := l.State(ctx, inquiry.Key())
	if !st.Replied {
		t.Fatal("expected replied")
	}
	s, _ := l.Stats(ctx)
	if s.Replied != 1 {
		t.Fatalf("expected 1 reply, got %d", s.Replied)
	}
}

func TestRecordFailure_CountsAndAbandons(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := inquiry.Key()

	for want := 1; want <= 3; want++ {
		n, err := l.RecordFailure(ctx, key, inquiry.From, inquiry.Subject, errors.New("smtp 421"))
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("attempt count = %d, want %d", n, want)
		}
	}

	s, _ := l.Stats(ctx)
	if s.Failing != 1 || s.Abandoned != 0 {
		t.Fatalf("unexpected stats before abandon: %+v", s)
	}

	if err := l.MarkAbandoned(ctx, key); err != nil {
		t.Fatal(err)
	}
	st, _ := l.State(ctx, key)
	if !st.Abandoned || st.Attempts != 3 {
		t.Fatalf("unexpected state: %+v", st)
	}
	s, _ = l.Stats(ctx)
	if s.Failing != 0 || s.Abandoned != 1 {
		t.Fatalf("unexpected stats after abandon: %+v", s)
	}
}

func TestMarkAbandoned_WithoutAttempts(t *testing.T) {
	if err := openTestLedger(t).MarkAbandoned(context.Background(), "never-failed"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFailingExcludesLaterReplied(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	l.RecordFailure(ctx, inquiry.Key(), inquiry.From, inquiry.Subject, errors.New("timeout"))
	l.RecordReply(ctx, inquiry)

	s, _ := l.Stats(ctx)
	if s.Failing != 0 || s.Replied != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestCycles(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"c1", "c2", "c3"} {
		start := base.Add(time.Duration(i) * time.Minute)
		err := l.RecordCycle(ctx, Cycle{
			ID: id, StartedAt: start, FinishedAt: start.Add(2 * time.Second),
			Fetched: 3, Replied: 2, Failed: 1,
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	got, err := l.RecentCycles(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c3" || got[1].ID != "c2" {
		t.Fatalf("unexpected cycles: %+v", got)
	}
	if got[0].Fetched != 3 || got[0].Replied != 2 || got[0].Failed != 1 {
		t.Fatalf("unexpected counters: %+v", got[0])
	}

	s, _ := l.Stats(ctx)
	if s.Cycles != 3 {
		t.Fatalf("expected 3 cycles, got %d", s.Cycles)
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "CREATE TABLE t (id INT)", 1},
		{"multiple", "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"trailing semicolon", "CREATE TABLE t (id INT);", 1},
		{"whitespace", "  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSQL(tt.input); len(got) != tt.expected {
				t.Errorf("expected %d statements, got %d: %v", tt.expected, len(got), got)
			}
		})
	}
}
