package queuestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndListUnprocessed(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	req, err := s.Append(Request{Kind: KindTrack, Artist: "Prince", Track: "Purple Rain"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if req.SearchID == 0 {
		t.Fatalf("expected non-zero search_id")
	}

	pending := s.ListUnprocessed()
	if len(pending) != 1 || pending[0].Artist != "Prince" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "queue.json"))
	req, _ := s.Append(Request{Kind: KindTrack})

	n, err := s.MarkProcessedByTimestamp(req.Timestamp)
	if err != nil || n != 1 {
		t.Fatalf("first mark: n=%d err=%v", n, err)
	}
	n, err = s.MarkProcessedByTimestamp(req.Timestamp)
	if err != nil || n != 0 {
		t.Fatalf("second mark should be a no-op: n=%d err=%v", n, err)
	}
	if len(s.ListUnprocessed()) != 0 {
		t.Fatalf("expected no pending entries")
	}
}

func TestCleanupRetainsUnprocessed(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "queue.json"))
	old, _ := s.Append(Request{Kind: KindTrack})
	_, _ = s.MarkProcessedByTimestamp(old.Timestamp)

	fresh, _ := s.Append(Request{Kind: KindTrack})

	removed, err := s.Cleanup(time.Now().Add(2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected to remove 1 processed entry, removed %d", removed)
	}
	remaining := s.ListUnprocessed()
	if len(remaining) != 1 || remaining[0].SearchID != fresh.SearchID {
		t.Fatalf("unprocessed entry should survive cleanup: %+v", remaining)
	}
}

func TestOpenAcceptsBareArrayDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	legacy := []Request{{SearchID: 1, Kind: KindTrack, Artist: "A"}}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.ListUnprocessed()) != 1 {
		t.Fatalf("expected 1 entry from legacy array document")
	}
}

func TestPersistedFileHasSearchesArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	s, _ := Open(path)
	if _, err := s.Append(Request{Kind: KindTrack}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("persisted file is not a valid {searches:[...]} document: %v", err)
	}
	if len(doc.Searches) != 1 {
		t.Fatalf("expected 1 persisted search")
	}
}
