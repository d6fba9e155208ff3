// Package queuestore persists the search-request queue to a single JSON
// document and serializes all reads and writes behind one mutex, mirroring
// the read-modify-write-whole-file pattern the teacher uses for its queue
// cache layer, adapted here to a plain file instead of Redis+Postgres since
// the queue has no durability requirement beyond surviving a clean restart.
package queuestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind distinguishes a single-track search from an album search.
type Kind string

const (
	KindTrack Kind = "track"
	KindAlbum Kind = "album"
)

// FormatPreference is the requester's preferred download format (§3, §4.J).
type FormatPreference string

const (
	FormatMP3  FormatPreference = "mp3"
	FormatFLAC FormatPreference = "flac"
)

// TrackRef is one entry of an album Search Request's tracks[] field.
type TrackRef struct {
	TrackNumber     int    `json:"track_number"`
	Artist          string `json:"artist"`
	Track           string `json:"track"`
	TrackID         string `json:"track_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Request is a Search Request: the unit of work accepted by the State
// Service and consumed by the Plugin Coordinator.
type Request struct {
	SearchID         int64            `json:"search_id"`
	Kind             Kind             `json:"kind"`
	QueryString      string           `json:"query_string"`
	Artist           string           `json:"artist,omitempty"`
	Track            string           `json:"track,omitempty"`
	Album            string           `json:"album,omitempty"`
	TrackID          string           `json:"track_id,omitempty"`
	DurationSeconds  int              `json:"duration_seconds,omitempty"`
	FormatPreference FormatPreference `json:"format_preference"`
	AutoDownload     bool             `json:"auto_download"`
	MetadataOverride bool             `json:"metadata_override"`
	Tracks           []TrackRef       `json:"tracks,omitempty"`
	Year             int              `json:"year,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
	Processed        bool             `json:"processed"`
}

// document is the on-disk shape: {"searches": [...]}.
type document struct {
	Searches []Request `json:"searches"`
}

// Store is a process-local, mutex-serialized JSON-file queue. All operations
// read, mutate, and rewrite the whole file; there is exactly one writer
// (the State Service) by construction, so the mutex only needs to guard
// concurrent handlers within this process.
type Store struct {
	path string

	mu       sync.Mutex
	nextID   int64
	searches []Request
}

// Open loads path into memory, tolerating a missing file (treated as an
// empty queue) and both legacy document shapes: a bare top-level array, or
// an object with a "searches" array.
func Open(path string) (*Store, error) {
	s := &Store{path: path, nextID: 1}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	searches, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	s.searches = searches
	for _, r := range searches {
		if r.SearchID >= s.nextID {
			s.nextID = r.SearchID + 1
		}
	}
	return s, nil
}

// decodeDocument accepts either a bare array or {"searches": [...]}.
func decodeDocument(data []byte) ([]Request, error) {
	var arr []Request
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Searches, nil
}

// Append assigns a search_id and timestamp to req, appends it, persists, and
// returns the stored copy (with search_id populated).
func (s *Store) Append(req Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.SearchID = s.nextID
	s.nextID++
	req.Timestamp = time.Now().UTC()
	req.Processed = false
	s.searches = append(s.searches, req)

	if err := s.persistLocked(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ListUnprocessed returns a copy of all entries with processed=false, in
// insertion order.
func (s *Store) ListUnprocessed() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, 0, len(s.searches))
	for _, r := range s.searches {
		if !r.Processed {
			out = append(out, r)
		}
	}
	return out
}

// MarkProcessedByTimestamp marks every entry with the exact timestamp as
// processed. Idempotent: repeat calls with an already-processed timestamp
// are no-ops and do not error.
func (s *Store) MarkProcessedByTimestamp(ts time.Time) (int, error) {
	return s.markProcessed(func(r Request) bool { return r.Timestamp.Equal(ts) })
}

// MarkProcessedByIDs marks every entry whose search_id is in ids as
// processed.
func (s *Store) MarkProcessedByIDs(ids []int64) (int, error) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.markProcessed(func(r Request) bool {
		_, ok := set[r.SearchID]
		return ok
	})
}

func (s *Store) markProcessed(match func(Request) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.searches {
		if s.searches[i].Processed {
			continue
		}
		if match(s.searches[i]) {
			s.searches[i].Processed = true
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.persistLocked()
}

// Cleanup removes processed entries older than maxAge relative to now.
// Unprocessed entries are never removed, regardless of age.
func (s *Store) Cleanup(now time.Time, maxAge time.Duration) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.searches[:0]
	for _, r := range s.searches {
		if r.Processed && now.Sub(r.Timestamp) > maxAge {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.searches = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

// persistLocked writes the current in-memory queue to disk via a
// write-temp-then-rename, which is atomic on POSIX filesystems and the
// closest approximation available via os.Rename elsewhere. Caller must hold
// s.mu.
func (s *Store) persistLocked() error {
	doc := document{Searches: s.searches}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir queue dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
