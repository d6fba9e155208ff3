package progress

import (
	"testing"
	"time"
)

func TestPercentIsMonotone(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 50, 50, 100)
	tbl.Update("t1", "a.mp3", 30, 30, 100)
	e := tbl.Snapshot()["t1"]
	if e.Percent != 50 {
		t.Fatalf("percent should not decrease: got %d", e.Percent)
	}
}

func TestCompletedAtSetOnce(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 100, 100, 100)
	first := tbl.Snapshot()["t1"].CompletedAt
	if first == nil {
		t.Fatalf("expected completed_at to be set")
	}
	time.Sleep(time.Millisecond)
	tbl.Update("t1", "a.mp3", 100, 100, 100)
	second := tbl.Snapshot()["t1"].CompletedAt
	if !second.Equal(*first) {
		t.Fatalf("completed_at should not be reset by a later 100%% update")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 10, 1, 10)
	tbl.Remove("t1")
	tbl.Remove("t1")
	if _, ok := tbl.Snapshot()["t1"]; ok {
		t.Fatalf("expected entry to be gone")
	}
}

func TestCleanupEvictsCompletedAfterGrace(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 100, 1, 1)
	removed := tbl.Cleanup(time.Now().Add(CompleteGrace + time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
}

func TestCleanupEvictsStaleIncomplete(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 40, 1, 10)
	removed := tbl.Cleanup(time.Now().Add(StaleGrace + time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
}

func TestCleanupKeepsFreshIncomplete(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 40, 1, 10)
	removed := tbl.Cleanup(time.Now())
	if removed != 0 {
		t.Fatalf("fresh incomplete entry should survive cleanup")
	}
}

func TestClearReturnsPriorSize(t *testing.T) {
	tbl := New()
	tbl.Update("t1", "a.mp3", 10, 1, 10)
	tbl.Update("t2", "b.mp3", 10, 1, 10)
	n := tbl.Clear()
	if n != 2 {
		t.Fatalf("expected prior size 2, got %d", n)
	}
	if len(tbl.Snapshot()) != 0 {
		t.Fatalf("expected empty table after clear")
	}
}
