package history

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	h, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndQuery(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()

	entries := []Entry{
		{URL: "x.com/a", Partition: "2025-01-01", Identity: 1, Status: "completed"},
		{URL: "x.com/b", Partition: "2025-01-01", Identity: 2, Status: "failed", Error: "timeout"},
		{URL: "x.com/c", Partition: "2025-01-02", Identity: 3, Status: "completed"},
	}
	for _, e := range entries {
		if err := h.Record(ctx, e); err != nil {
			t.Fatalf("record %v: %v", e, err)
		}
	}

	seen, err := h.Seen(ctx, "x.com/a")
	if err != nil || !seen {
		t.Errorf("seen known url: %v, %v", seen, err)
	}
	seen, err = h.Seen(ctx, "x.com/never")
	if err != nil || seen {
		t.Errorf("seen unknown url: %v, %v", seen, err)
	}

	counts, err := h.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["completed"] != 2 || counts["failed"] != 1 {
		t.Errorf("counts: %v", counts)
	}

	recent, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].URL != "x.com/c" {
		t.Errorf("recent: %+v", recent)
	}
	if recent[0].ProcessedAt.IsZero() {
		t.Error("processed_at not defaulted")
	}
}

func TestRecordIdempotent(t *testing.T) {
	// Replaying the same terminal transition must not duplicate history.
	h := openTestDB(t)
	ctx := context.Background()

	e := Entry{URL: "x.com/a", Partition: "2025-01-01", Identity: 1,
		Status: "completed", ProcessedAt: time.Now().UTC()}
	if err := h.Record(ctx, e); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := h.Record(ctx, e); err != nil {
		t.Fatalf("replayed record: %v", err)
	}

	counts, _ := h.CountByStatus(ctx)
	if counts["completed"] != 1 {
		t.Errorf("duplicated: %v", counts)
	}
}
