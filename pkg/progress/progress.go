// Package progress implements the concurrent progress table (component C):
// a keyed map from track_id to in-flight download progress, with
// monotonicity and eviction rules enforced on every mutation.
package progress

import (
	"sync"
	"time"
)

// Entry is a Progress Entry (§3).
type Entry struct {
	Filename    string     `json:"filename"`
	Percent     int        `json:"percent"`
	BytesDone   int64      `json:"bytes_done"`
	BytesTotal  int64      `json:"bytes_total"`
	LastUpdate  time.Time  `json:"last_update"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CompleteGrace is how long a completed entry survives before eviction.
const CompleteGrace = 60 * time.Second

// StaleGrace is how long an incomplete entry survives without an update
// before eviction.
const StaleGrace = 10 * time.Minute

// Table is a concurrency-safe map of track_id -> Entry.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Update inserts or mutates the entry for trackID. percent is clamped to
// [0,100]. completed_at is set exactly once, on the transition from <100 to
// 100; subsequent updates at 100 do not reset it. Updates that would
// decrease percent below the entry's current value are rejected (progress
// monotonicity, §8 invariant 5) and the prior percent is retained — only the
// other fields (bytes, filename, last_update) still refresh.
func (t *Table) Update(trackID, filename string, percent int, bytesDone, bytesTotal int64) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	now := time.Now()
	e, ok := t.entries[trackID]
	if !ok {
		e = &Entry{}
		t.entries[trackID] = e
	}

	wasComplete := e.CompletedAt != nil
	if percent >= e.Percent {
		e.Percent = percent
	}
	e.Filename = filename
	e.BytesDone = bytesDone
	e.BytesTotal = bytesTotal
	e.LastUpdate = now

	if e.Percent == 100 && !wasComplete {
		completedAt := now
		e.CompletedAt = &completedAt
	}
	return *e
}

// Remove deletes the entry for trackID, if present. Idempotent.
func (t *Table) Remove(trackID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, trackID)
}

// Clear removes every entry and returns the number removed.
func (t *Table) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.entries)
	t.entries = make(map[string]*Entry)
	return n
}

// Snapshot returns a copy of the current table, suitable for /status.
func (t *Table) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = *v
	}
	return out
}

// Cleanup evicts entries that are complete-and-past-grace or
// stale-and-unfinished, as of now. Returns the number evicted.
func (t *Table) Cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, e := range t.entries {
		if e.CompletedAt != nil {
			if now.Sub(*e.CompletedAt) > CompleteGrace {
				delete(t.entries, id)
				removed++
			}
			continue
		}
		if now.Sub(e.LastUpdate) > StaleGrace {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}
