// Package eventlog implements the bounded console-event ring the State
// Service exposes via /status: a fixed-capacity, monotone-ID log that the
// browser extension tails. Grounded on the teacher's in-memory hub/registry
// pattern (listenparty.go's mutex-guarded maps) but simplified to a slice
// ring since events have no per-connection fan-out here, just a shared log.
package eventlog

import (
	"sync"
	"time"
)

// Type is the severity/category of an Event.
type Type string

const (
	Info    Type = "info"
	Success Type = "success"
	Warning Type = "warning"
	Error   Type = "error"
)

// MaxEvents is the hard cap on retained events (§3, §8 invariant 2).
const MaxEvents = 50

// MaxAge is how long an event is retained after insertion (§3 invariant 3).
const MaxAge = time.Hour

// Event is one entry in the ring.
type Event struct {
	ID        uint64    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	TrackID   string    `json:"track_id,omitempty"`
}

// Log is a bounded, monotone-ID ring of events. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	nextID uint64
	events []Event
}

// New returns an empty Log. The ID counter always starts at 1 for a fresh
// process, which is the basis of the client-side restart-detection
// heuristic in §6: a freshly restarted service's first event has id=1.
func New() *Log {
	return &Log{nextID: 1}
}

// Add appends a new event, assigning it the next monotone ID, trims the
// ring if it's over MaxEvents, and opportunistically expires entries older
// than MaxAge. Returns the stored Event.
func (l *Log) Add(typ Type, message, trackID string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e := Event{ID: l.nextID, Type: typ, Message: message, Timestamp: now, TrackID: trackID}
	l.nextID++
	l.events = append(l.events, e)

	l.expireLocked(now)
	if len(l.events) > MaxEvents {
		l.events = l.events[len(l.events)-MaxEvents:]
	}
	return e
}

// Since returns every event with id > lastID, in insertion order.
func (l *Log) Since(lastID uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every retained event, in insertion order.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Cleanup evicts events older than MaxAge as of now. Called periodically by
// the State Service's background sweep (§4.D).
func (l *Log) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.events)
	l.expireLocked(now)
	return before - len(l.events)
}

func (l *Log) expireLocked(now time.Time) {
	kept := l.events[:0]
	for _, e := range l.events {
		if now.Sub(e.Timestamp) <= MaxAge {
			kept = append(kept, e)
		}
	}
	l.events = kept
}
